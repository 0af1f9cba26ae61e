package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duplexhq/duplex/pkg/api"
)

// PostgresStore is a RelationalStore backed by PostgreSQL via pgx.
//
// The pool is owned by the caller; the store only borrows connections from
// it. Transactions opened by InTx are exclusively owned by the write
// operation they were created for.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Ensure PostgresStore implements RelationalStore.
var _ RelationalStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS collections (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (name, version)
		);

		CREATE TABLE IF NOT EXISTS async_operations (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS executions (
			id BIGSERIAL PRIMARY KEY,
			arn TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			url TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			tasks JSONB,
			duration_seconds BIGINT NOT NULL DEFAULT 0,
			original_payload JSONB,
			final_payload JSONB,
			error JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL,
			collection_id BIGINT REFERENCES collections(id),
			async_operation_id BIGINT REFERENCES async_operations(id),
			parent_id BIGINT REFERENCES executions(id)
		);

		CREATE TABLE IF NOT EXISTS rules (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			workflow TEXT NOT NULL,
			state TEXT NOT NULL,
			value JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) CollectionID(ctx context.Context, name, version string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM collections WHERE name = $1 AND version = $2`,
		name, version,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, api.ErrReferenceNotFound
		}
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) AsyncOperationID(ctx context.Context, externalID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM async_operations WHERE external_id = $1`,
		externalID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, api.ErrReferenceNotFound
		}
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) ExecutionID(ctx context.Context, arn string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM executions WHERE arn = $1`,
		arn,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, api.ErrReferenceNotFound
		}
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, arn string) (*api.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, arn, status, url, workflow_name, tasks, duration_seconds,
		       original_payload, final_payload, error,
		       created_at, updated_at, "timestamp",
		       collection_id, async_operation_id, parent_id
		FROM executions
		WHERE arn = $1`,
		arn,
	)

	var (
		rec       api.ExecutionRecord
		statusStr string
		tasks     []byte
		origP     []byte
		finalP    []byte
		errObj    []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Arn, &statusStr, &rec.URL, &rec.WorkflowName,
		&tasks, &rec.DurationSeconds, &origP, &finalP, &errObj,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.Timestamp,
		&rec.CollectionID, &rec.AsyncOperationID, &rec.ParentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.ErrExecutionNotFound
		}
		return nil, err
	}

	rec.Status = api.Status(statusStr)
	if rec.Tasks, err = decodeJSON(tasks); err != nil {
		return nil, err
	}
	if rec.OriginalPayload, err = decodeJSON(origP); err != nil {
		return nil, err
	}
	if rec.FinalPayload, err = decodeJSON(finalP); err != nil {
		return nil, err
	}
	if rec.Error, err = decodeJSON(errObj); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (s *PostgresStore) CreateCollection(ctx context.Context, name, version string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO collections (name, version)
		VALUES ($1, $2)
		ON CONFLICT (name, version) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		name, version,
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) CreateAsyncOperation(ctx context.Context, externalID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO async_operations (external_id)
		VALUES ($1)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id`,
		externalID,
	).Scan(&id)
	return id, err
}

// InTx runs fn inside one pgx transaction. Any error from fn aborts the
// transaction; nothing fn wrote is visible afterwards.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx RelationalTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx pgx.Tx
}

var _ RelationalTx = (*postgresTx)(nil)

const executionInsert = `
	INSERT INTO executions (
		arn, status, url, workflow_name, tasks, duration_seconds,
		original_payload, final_payload, error,
		created_at, updated_at, "timestamp",
		collection_id, async_operation_id, parent_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// mergeFullClause overwrites every column when the arn already exists.
const mergeFullClause = `
	ON CONFLICT (arn) DO UPDATE SET
		status = EXCLUDED.status,
		url = EXCLUDED.url,
		workflow_name = EXCLUDED.workflow_name,
		tasks = EXCLUDED.tasks,
		duration_seconds = EXCLUDED.duration_seconds,
		original_payload = EXCLUDED.original_payload,
		final_payload = EXCLUDED.final_payload,
		error = EXCLUDED.error,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		"timestamp" = EXCLUDED."timestamp",
		collection_id = EXCLUDED.collection_id,
		async_operation_id = EXCLUDED.async_operation_id,
		parent_id = EXCLUDED.parent_id
	RETURNING id`

// mergeRestrictedClause touches only the original payload and the timestamp
// columns. The stored status, url, workflow_name, final payload, error and
// foreign keys survive, which is what keeps terminal records terminal under
// late-arriving "running" events.
const mergeRestrictedClause = `
	ON CONFLICT (arn) DO UPDATE SET
		original_payload = EXCLUDED.original_payload,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		"timestamp" = EXCLUDED."timestamp"
	RETURNING id`

func (t *postgresTx) UpsertExecution(ctx context.Context, rec *api.ExecutionRecord, policy MergePolicy) (int64, error) {
	tasks, err := encodeJSON(rec.Tasks)
	if err != nil {
		return 0, err
	}
	origP, err := encodeJSON(rec.OriginalPayload)
	if err != nil {
		return 0, err
	}
	finalP, err := encodeJSON(rec.FinalPayload)
	if err != nil {
		return 0, err
	}
	errObj, err := encodeJSON(rec.Error)
	if err != nil {
		return 0, err
	}
	if errObj == nil {
		errObj = []byte(`{}`)
	}

	var clause string
	switch policy {
	case MergeFull:
		clause = mergeFullClause
	case MergeRestricted:
		clause = mergeRestrictedClause
	default:
		return 0, fmt.Errorf("unknown merge policy %d", policy)
	}

	var id int64
	err = t.tx.QueryRow(ctx, executionInsert+clause,
		rec.Arn, string(rec.Status), rec.URL, rec.WorkflowName,
		tasks, rec.DurationSeconds, origP, finalP, errObj,
		rec.CreatedAt, rec.UpdatedAt, rec.Timestamp,
		rec.CollectionID, rec.AsyncOperationID, rec.ParentID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *postgresTx) InsertRule(ctx context.Context, rec *api.RuleRecord) (int64, error) {
	value, err := encodeJSON(rec.Value)
	if err != nil {
		return 0, err
	}

	var id int64
	err = t.tx.QueryRow(ctx, `
		INSERT INTO rules (name, workflow, state, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.Name, rec.Workflow, rec.State, value, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, api.ErrRuleExists
		}
		return 0, err
	}
	return id, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// encodeJSON marshals a map for a JSONB column. A nil map becomes SQL NULL.
func encodeJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// decodeJSON unmarshals a JSONB column. SQL NULL becomes a nil map.
func decodeJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

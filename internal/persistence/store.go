package persistence

import (
	"context"

	"github.com/duplexhq/duplex/pkg/api"
)

// MergePolicy selects which columns an execution upsert may touch when the
// arn already exists.
type MergePolicy int

const (
	// MergeFull overwrites every column on conflict. Used for the first
	// write of an arn and for any terminal write.
	MergeFull MergePolicy = iota

	// MergeRestricted updates only the original payload and the timestamp
	// columns (created_at, updated_at, timestamp) on conflict. Status, url,
	// workflow name, final payload, error, duration and the foreign keys
	// keep their stored values. Used for incoming "running" events so that
	// a late or duplicated heartbeat can never clobber authoritative
	// metadata or resurrect a terminal record.
	MergeRestricted
)

// RelationalTx is the write surface of one relational transaction. A tx
// handle is exclusively owned by the write operation it was created for and
// is never shared across concurrent writes.
type RelationalTx interface {
	// UpsertExecution inserts or merges the record keyed on arn according
	// to the given policy and returns the row's surrogate id.
	UpsertExecution(ctx context.Context, rec *api.ExecutionRecord, policy MergePolicy) (int64, error)

	// InsertRule inserts a rule row and returns its surrogate id.
	// Returns api.ErrRuleExists if a rule with the same name exists.
	InsertRule(ctx context.Context, rec *api.RuleRecord) (int64, error)
}

// RelationalStore is the relational side of the dual-store pair.
//
// Lookup methods return api.ErrReferenceNotFound when the requested entity
// does not exist; they never mutate.
type RelationalStore interface {
	// CollectionID resolves a collection natural key to its surrogate id.
	CollectionID(ctx context.Context, name, version string) (int64, error)

	// AsyncOperationID resolves an async-operation external id to its
	// surrogate id.
	AsyncOperationID(ctx context.Context, externalID string) (int64, error)

	// ExecutionID resolves an execution arn to its surrogate id.
	ExecutionID(ctx context.Context, arn string) (int64, error)

	// GetExecution reads the full record for an arn.
	// Returns api.ErrExecutionNotFound if no record exists.
	GetExecution(ctx context.Context, arn string) (*api.ExecutionRecord, error)

	// CreateCollection registers a collection so executions can reference
	// it. Idempotent: re-creating an existing collection returns its id.
	CreateCollection(ctx context.Context, name, version string) (int64, error)

	// CreateAsyncOperation registers an async operation. Idempotent like
	// CreateCollection.
	CreateAsyncOperation(ctx context.Context, externalID string) (int64, error)

	// InTx runs fn inside one relational transaction. If fn returns an
	// error the transaction is rolled back and that error is returned; no
	// partial state remains.
	InTx(ctx context.Context, fn func(tx RelationalTx) error) error
}

// DocumentStore is the document side of the dual-store pair. Its store
// operations are idempotent and must be invoked exactly once per successful
// relational commit attempt; failures are reported as api.ErrDocumentWrite
// by the writer so callers can tell them apart from relational errors.
type DocumentStore interface {
	// StoreExecution mirrors the event into the document store, keyed on
	// the execution arn.
	StoreExecution(ctx context.Context, ev *api.CanonicalEvent) error

	// StoreRule mirrors a rule into the document store, keyed on its name.
	StoreRule(ctx context.Context, rule api.Rule) error
}

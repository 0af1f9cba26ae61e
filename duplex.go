package duplex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/duplexhq/duplex/internal/engine"
	"github.com/duplexhq/duplex/internal/eventqueue"
	"github.com/duplexhq/duplex/internal/persistence"
	"github.com/duplexhq/duplex/pkg/api"
	"github.com/duplexhq/duplex/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	CanonicalEvent       = api.CanonicalEvent
	CollectionRef        = api.CollectionRef
	ExecutionRecord      = api.ExecutionRecord
	Rule                 = api.Rule
	RuleRecord           = api.RuleRecord
	RuleExtractor        = api.RuleExtractor
	Status               = api.Status
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Queue       = eventqueue.Queue
	Message     = eventqueue.Message
	Worker      = worker.Worker
	RetryPolicy = worker.RetryPolicy
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export sentinel errors for errors.Is checks at call sites.

var (
	ErrConfigurationMissing = api.ErrConfigurationMissing
	ErrUnmetRequirements    = api.ErrUnmetRequirements
	ErrReferenceNotFound    = api.ErrReferenceNotFound
	ErrDocumentWrite        = api.ErrDocumentWrite
	ErrExecutionNotFound    = api.ErrExecutionNotFound
	ErrRuleExists           = api.ErrRuleExists
	ErrRuleNotFound         = api.ErrRuleNotFound
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusAborted   = api.StatusAborted
	StatusTimedOut  = api.StatusTimedOut
)

// Engine constructors
// These wrap the internal packages so external callers
// never need to import them.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Writes are not durable; intended for tests and local development.
func NewInMemoryEngine(cfg Config) (Engine, error) {
	return engine.NewEngine(engine.Config{
		Relational:        persistence.NewInMemoryStore(),
		Document:          persistence.NewInMemoryDocumentStore(),
		MigrationBoundary: cfg.MigrationBoundary,
		Region:            cfg.Region,
		Extractor:         cfg.Extractor,
		Observer:          cfg.Observer,
	})
}

// NewPostgresMongoEngine returns an Engine whose relational side lives in
// PostgreSQL (via the given pool) and whose document side lives in MongoDB.
// The relational schema is created on first use if it does not exist.
func NewPostgresMongoEngine(ctx context.Context, pool *pgxpool.Pool, client *mongo.Client, cfg Config) (Engine, error) {
	rel, err := persistence.NewPostgresStore(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("initializing postgres store: %w", err)
	}

	doc := persistence.NewMongoDocumentStore(client, cfg.MongoDatabase, cfg.Region)

	return engine.NewEngine(engine.Config{
		Relational:        rel,
		Document:          doc,
		MigrationBoundary: cfg.MigrationBoundary,
		Region:            cfg.Region,
		Extractor:         cfg.Extractor,
		Observer:          cfg.Observer,
	})
}

// Connect dials both stores from cfg and returns a ready Engine. Callers who
// manage their own pool and client should use NewPostgresMongoEngine instead.
func Connect(ctx context.Context, cfg Config) (Engine, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	eng, err := NewPostgresMongoEngine(ctx, pool, client, cfg)
	if err != nil {
		pool.Close()
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return eng, nil
}

// Queue constructors.

// NewInMemoryQueue returns a process-local event queue.
func NewInMemoryQueue(capacity int) Queue {
	return eventqueue.NewInMemoryQueue(capacity)
}

// NewSQLiteQueue returns a durable event queue backed by the given SQLite
// database, creating its table if needed.
func NewSQLiteQueue(db *sql.DB) (Queue, error) {
	return eventqueue.NewSQLiteQueue(db)
}

// NewMongoQueue returns a durable event queue backed by MongoDB, for
// deployments that already run the document store there.
func NewMongoQueue(client *mongo.Client, dbName, collName string) Queue {
	return eventqueue.NewMongoQueue(client, dbName, collName)
}

// NewWorker returns a Worker that pulls events from q and drives them
// through eng.
func NewWorker(eng Engine, q Queue, cfg worker.Config) *Worker {
	return worker.New(eng, q, cfg)
}

// Convenience helpers that just forward to the underlying Engine.

// SyncExecution writes the event to both stores and returns the relational
// row id.
func SyncExecution(ctx context.Context, eng Engine, ev *CanonicalEvent) (int64, error) {
	return eng.SyncExecution(ctx, ev)
}

// SyncRules writes the event's dependent rules to both stores.
func SyncRules(ctx context.Context, eng Engine, ev *CanonicalEvent) ([]int64, error) {
	return eng.SyncRules(ctx, ev)
}

// MirrorExecution writes the event to the document store only. Used after a
// gate rejection, where the relational write is skipped by design.
func MirrorExecution(ctx context.Context, eng Engine, ev *CanonicalEvent) error {
	return eng.MirrorExecution(ctx, ev)
}

// GetExecution fetches a stored execution record by its ARN.
func GetExecution(ctx context.Context, eng Engine, arn string) (*ExecutionRecord, error) {
	return eng.GetExecution(ctx, arn)
}

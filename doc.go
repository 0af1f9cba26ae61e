// Package duplex keeps two views of workflow execution state in sync: a
// relational store (PostgreSQL) that powers reporting and joins, and a
// document store (MongoDB) that mirrors every execution for fast lookup by
// ARN.
//
// Duplex is designed for services that ingest workflow completion events and
// need both representations written consistently, without introducing heavy
// infrastructure. It runs fully in Go, supports in-memory backends for tests,
// and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Worker
//  3. Queue
//  4. Observer
//  5. LocalRunner
//
// # Engine
//
// The Engine accepts canonical execution events and provides APIs to:
//   - sync an execution to both stores (SyncExecution)
//   - sync an event's dependent rules (SyncRules)
//   - mirror an event to the document store alone (MirrorExecution)
//   - read back a stored execution (GetExecution)
//
// Each SyncExecution pass resolves the event's references (collection,
// asynchronous operation, parent execution) against the relational store,
// checks that the event's schema version meets the configured migration
// boundary, builds a normalized record, and writes it to both stores. The
// relational write happens inside a transaction; the document write follows
// it and is reported separately via ErrDocumentWrite when it fails.
//
// Conflicting writes merge by status: an incoming running event never
// overwrites a terminal row's outcome fields, so replayed or late events
// cannot un-complete an execution.
//
// Events below the migration boundary, or referencing rows that do not
// exist yet, are rejected with ErrUnmetRequirements before anything is
// written relationally. Callers decide what to do next; the Worker mirrors
// such events to the document store so nothing is lost.
//
// # Worker and Queue
//
// A Worker pulls events from a Queue and drives them through the Engine,
// applying a RetryPolicy with backoff to transient failures. Queues come in
// three flavors: in-memory (tests), SQLite (embedded durability), and
// MongoDB (for deployments that already run the document store there).
//
// # Observer
//
// Observers receive lifecycle callbacks (event received, relational write,
// document write, write skipped, rule written/failed). LoggingObserver logs
// via slog, BasicMetrics counts atomically, and CompositeObserver fans out
// to several at once.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory engine, queue, and worker into a single
// process-local helper useful for development and unit testing. It is
// intentionally not crash-durable.
package duplex

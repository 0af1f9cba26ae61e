package api

import "context"

// Engine is the dual-store synchronization API.
//
// An Engine owns one relational store and one document store. The two stores
// do not share a transaction boundary: the relational write commits first,
// the document mirror follows, and a document-store failure after commit is
// surfaced as ErrDocumentWrite while the relational row stays in place.
type Engine interface {
	// SyncExecution runs the full pipeline for one event: resolve the
	// event's references, check the requirement gate, build the relational
	// record, write it inside one relational transaction and mirror it to
	// the document store. It returns the relational surrogate id.
	//
	// If the gate rejects the event, SyncExecution returns
	// ErrUnmetRequirements and neither store is touched; callers that still
	// want the document mirror use MirrorExecution.
	SyncExecution(ctx context.Context, ev *CanonicalEvent) (int64, error)

	// SyncRules extracts the event's dependent rules and writes each one in
	// its own isolated relational transaction, all concurrently. One rule's
	// failure does not block the others. It returns the surrogate id per
	// rule; failed positions hold zero. If any rule failed, the returned
	// error aggregates every failure.
	SyncRules(ctx context.Context, ev *CanonicalEvent) ([]int64, error)

	// MirrorExecution writes the event to the document store only. The
	// document store carries no migration-boundary requirement, so events
	// the gate rejects can still be mirrored.
	MirrorExecution(ctx context.Context, ev *CanonicalEvent) error

	// GetExecution reads the relational record for an arn.
	// Returns ErrExecutionNotFound if no record exists.
	GetExecution(ctx context.Context, arn string) (*ExecutionRecord, error)
}

// RuleExtractor enumerates the dependent rules carried by an event.
// Extraction itself is an upstream concern; the default extractor reads the
// "rules" entry of the event's task map.
type RuleExtractor func(ev *CanonicalEvent) []Rule

package engine

import (
	"context"
	"fmt"

	"github.com/duplexhq/duplex/internal/persistence"
	"github.com/duplexhq/duplex/pkg/api"
)

// dualWriter orchestrates the two stores. The relational write happens
// inside one transaction; the document-store write follows only after that
// transaction commits. The two stores share no transaction boundary: a
// document-store failure after the relational commit leaves the relational
// row in place and is surfaced as api.ErrDocumentWrite for the caller to
// reconcile.
type dualWriter struct {
	rel      persistence.RelationalStore
	doc      persistence.DocumentStore
	observer api.Observer
}

// writeExecution upserts the record keyed on arn and mirrors the event to
// the document store. It returns the relational surrogate id.
//
// Merge policy by incoming status:
//   - running: restricted merge, so repeated or late heartbeats can update
//     payload and timestamps but never clobber the authoritative url and
//     workflow name, and never regress a terminal status.
//   - anything else (terminal write, or first write): full merge.
//
// If the relational transaction fails, it is rolled back and the document
// store is never invoked.
func (w *dualWriter) writeExecution(ctx context.Context, ev *api.CanonicalEvent, rec *api.ExecutionRecord) (int64, error) {
	policy := persistence.MergeFull
	if rec.Status == api.StatusRunning {
		policy = persistence.MergeRestricted
	}

	var id int64
	err := w.rel.InTx(ctx, func(tx persistence.RelationalTx) error {
		var txErr error
		id, txErr = tx.UpsertExecution(ctx, rec, policy)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	w.observer.OnRelationalWrite(ctx, ev, id)

	if err := w.doc.StoreExecution(ctx, ev); err != nil {
		return id, fmt.Errorf("%w: execution %s: %v", api.ErrDocumentWrite, ev.Arn, err)
	}
	w.observer.OnDocumentWrite(ctx, ev)

	return id, nil
}

// writeRule inserts one rule row in its own transaction and mirrors the
// rule to the document store, with the same ordering contract as
// writeExecution.
func (w *dualWriter) writeRule(ctx context.Context, rule api.Rule, rec *api.RuleRecord) (int64, error) {
	var id int64
	err := w.rel.InTx(ctx, func(tx persistence.RelationalTx) error {
		var txErr error
		id, txErr = tx.InsertRule(ctx, rec)
		return txErr
	})
	if err != nil {
		return 0, err
	}

	if err := w.doc.StoreRule(ctx, rule); err != nil {
		return id, fmt.Errorf("%w: rule %s: %v", api.ErrDocumentWrite, rule.Name, err)
	}

	return id, nil
}

package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/duplexhq/duplex/internal/persistence"
	"github.com/duplexhq/duplex/pkg/api"
)

// references holds the resolved relational surrogate ids for the entities an
// event declares. A nil field means the event declared no such reference.
type references struct {
	collectionID     *int64
	asyncOperationID *int64
	parentID         *int64
}

// resolveReferences looks up the surrogate id of every reference the event
// declares. The lookups are independent and run concurrently; a reference
// absent from the event is skipped entirely.
//
// A declared reference that does not exist yields an error wrapping
// api.ErrReferenceNotFound naming the missing entity. Resolution performs
// reads only, no mutation.
func resolveReferences(ctx context.Context, store persistence.RelationalStore, ev *api.CanonicalEvent) (references, error) {
	var refs references

	g, ctx := errgroup.WithContext(ctx)

	if ev.Collection != nil {
		coll := ev.Collection
		g.Go(func() error {
			id, err := store.CollectionID(ctx, coll.Name, coll.Version)
			if err != nil {
				return fmt.Errorf("collection %s/%s: %w", coll.Name, coll.Version, err)
			}
			refs.collectionID = &id
			return nil
		})
	}

	if ev.AsyncOperationID != "" {
		g.Go(func() error {
			id, err := store.AsyncOperationID(ctx, ev.AsyncOperationID)
			if err != nil {
				return fmt.Errorf("async operation %s: %w", ev.AsyncOperationID, err)
			}
			refs.asyncOperationID = &id
			return nil
		})
	}

	if ev.ParentArn != "" {
		g.Go(func() error {
			id, err := store.ExecutionID(ctx, ev.ParentArn)
			if err != nil {
				return fmt.Errorf("parent execution %s: %w", ev.ParentArn, err)
			}
			refs.parentID = &id
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return references{}, err
	}
	return refs, nil
}

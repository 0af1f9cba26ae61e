package engine

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/duplexhq/duplex/pkg/api"
)

// checkRequirements decides whether the relational write may proceed for an
// event. It is pure decision logic and performs no writes.
//
// Rules, in order:
//  1. An event whose schema version is strictly below the migration boundary
//     is rejected with api.ErrUnmetRequirements ("pre-migration event"). The
//     document store has no such requirement; whether the event is still
//     mirrored there is the caller's call.
//  2. A reference the event declares that failed to resolve rejects the
//     event with api.ErrUnmetRequirements naming the missing reference.
//     Resolution failures that are not "not found" (connection errors and
//     the like) propagate verbatim.
//
// On success it returns the resolved surrogate ids, possibly all absent.
func checkRequirements(ev *api.CanonicalEvent, refs references, resolveErr error, boundary *semver.Version) (references, error) {
	v, err := semver.NewVersion(ev.SchemaVersion)
	if err != nil {
		return references{}, fmt.Errorf("%w: unparseable schema version %q: %v",
			api.ErrUnmetRequirements, ev.SchemaVersion, err)
	}
	if v.LessThan(boundary) {
		return references{}, fmt.Errorf("%w: pre-migration event: schema version %s is below boundary %s",
			api.ErrUnmetRequirements, ev.SchemaVersion, boundary)
	}

	if resolveErr != nil {
		if errors.Is(resolveErr, api.ErrReferenceNotFound) {
			return references{}, fmt.Errorf("%w: %v", api.ErrUnmetRequirements, resolveErr)
		}
		return references{}, resolveErr
	}

	return refs, nil
}

// parseBoundary parses the configured migration-boundary version. An empty
// or unparseable value is a fatal configuration error, never retried.
func parseBoundary(raw string) (*semver.Version, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: migration boundary version", api.ErrConfigurationMissing)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid migration boundary version %q: %v",
			api.ErrConfigurationMissing, raw, err)
	}
	return v, nil
}

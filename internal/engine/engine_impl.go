package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/duplexhq/duplex/internal/persistence"
	"github.com/duplexhq/duplex/pkg/api"
)

// engineImpl runs the sync pipeline: resolve references, check the
// requirement gate, build the normalized record, write both stores.
type engineImpl struct {
	rel      persistence.RelationalStore
	writer   *dualWriter
	boundary *semver.Version
	region   string
	extract  api.RuleExtractor
	observer api.Observer
	now      func() time.Time
}

// Config describes how to construct an engine. External callers use the
// constructors in the root package.
type Config struct {
	Relational persistence.RelationalStore
	Document   persistence.DocumentStore

	// MigrationBoundary is the minimum schema version for which relational
	// writes are valid. Required; an empty value is a fatal configuration
	// error.
	MigrationBoundary string

	// Region feeds the derived console url. Empty picks the default.
	Region string

	// Extractor enumerates an event's dependent rules for SyncRules.
	// Nil picks DefaultRuleExtractor.
	Extractor api.RuleExtractor

	// Observer receives lifecycle callbacks. Nil picks the noop observer.
	Observer api.Observer

	// Now overrides the clock, for tests. Nil picks time.Now.
	Now func() time.Time
}

// NewEngine creates an Engine from cfg. Both stores are required, and the
// migration boundary must be a parseable semantic version.
func NewEngine(cfg Config) (api.Engine, error) {
	if cfg.Relational == nil {
		return nil, errors.New("relational store is required")
	}
	if cfg.Document == nil {
		return nil, errors.New("document store is required")
	}

	boundary, err := parseBoundary(cfg.MigrationBoundary)
	if err != nil {
		return nil, err
	}

	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	extract := cfg.Extractor
	if extract == nil {
		extract = DefaultRuleExtractor
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &engineImpl{
		rel: cfg.Relational,
		writer: &dualWriter{
			rel:      cfg.Relational,
			doc:      cfg.Document,
			observer: obs,
		},
		boundary: boundary,
		region:   cfg.Region,
		extract:  extract,
		observer: obs,
		now:      now,
	}, nil
}

func (e *engineImpl) SyncExecution(ctx context.Context, ev *api.CanonicalEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	e.observer.OnEventReceived(ctx, ev)

	refs, resolveErr := resolveReferences(ctx, e.rel, ev)

	refs, err := checkRequirements(ev, refs, resolveErr, e.boundary)
	if err != nil {
		if errors.Is(err, api.ErrUnmetRequirements) {
			e.observer.OnWriteSkipped(ctx, ev, err)
		}
		return 0, err
	}

	rec := buildExecutionRecord(ev, refs, e.region, e.now())
	return e.writer.writeExecution(ctx, ev, rec)
}

func (e *engineImpl) SyncRules(ctx context.Context, ev *api.CanonicalEvent) ([]int64, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	rules := e.extract(ev)
	if len(rules) == 0 {
		return nil, nil
	}
	return e.syncRules(ctx, rules)
}

func (e *engineImpl) MirrorExecution(ctx context.Context, ev *api.CanonicalEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	if err := e.writer.doc.StoreExecution(ctx, ev); err != nil {
		return fmt.Errorf("%w: execution %s: %v", api.ErrDocumentWrite, ev.Arn, err)
	}
	e.observer.OnDocumentWrite(ctx, ev)
	return nil
}

func (e *engineImpl) GetExecution(ctx context.Context, arn string) (*api.ExecutionRecord, error) {
	return e.rel.GetExecution(ctx, arn)
}

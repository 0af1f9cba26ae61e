package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the sync engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay event processing.
type Observer interface {
	// OnEventReceived is called once per event, before the pipeline runs.
	OnEventReceived(ctx context.Context, ev *CanonicalEvent)

	// OnRelationalWrite is called after the relational transaction for an
	// execution has committed. id is the relational surrogate id.
	OnRelationalWrite(ctx context.Context, ev *CanonicalEvent, id int64)

	// OnDocumentWrite is called after the document-store mirror write for
	// an execution has succeeded.
	OnDocumentWrite(ctx context.Context, ev *CanonicalEvent)

	// OnWriteSkipped is called when the requirement gate rejects the
	// relational write for an event. reason is the gate's error.
	OnWriteSkipped(ctx context.Context, ev *CanonicalEvent, reason error)

	// OnRuleWritten is called after one rule of a batch has been persisted
	// to both stores.
	OnRuleWritten(ctx context.Context, rule Rule, id int64)

	// OnRuleFailed is called for each rule of a batch whose write failed.
	OnRuleFailed(ctx context.Context, rule Rule, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnEventReceived(ctx context.Context, ev *CanonicalEvent)                {}
func (NoopObserver) OnRelationalWrite(ctx context.Context, ev *CanonicalEvent, id int64)    {}
func (NoopObserver) OnDocumentWrite(ctx context.Context, ev *CanonicalEvent)                {}
func (NoopObserver) OnWriteSkipped(ctx context.Context, ev *CanonicalEvent, reason error)   {}
func (NoopObserver) OnRuleWritten(ctx context.Context, rule Rule, id int64)                 {}
func (NoopObserver) OnRuleFailed(ctx context.Context, rule Rule, err error)                 {}

// CompositeObserver fans out callbacks to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards callbacks to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnEventReceived(ctx context.Context, ev *CanonicalEvent) {
	for _, o := range c.observers {
		o.OnEventReceived(ctx, ev)
	}
}

func (c *CompositeObserver) OnRelationalWrite(ctx context.Context, ev *CanonicalEvent, id int64) {
	for _, o := range c.observers {
		o.OnRelationalWrite(ctx, ev, id)
	}
}

func (c *CompositeObserver) OnDocumentWrite(ctx context.Context, ev *CanonicalEvent) {
	for _, o := range c.observers {
		o.OnDocumentWrite(ctx, ev)
	}
}

func (c *CompositeObserver) OnWriteSkipped(ctx context.Context, ev *CanonicalEvent, reason error) {
	for _, o := range c.observers {
		o.OnWriteSkipped(ctx, ev, reason)
	}
}

func (c *CompositeObserver) OnRuleWritten(ctx context.Context, rule Rule, id int64) {
	for _, o := range c.observers {
		o.OnRuleWritten(ctx, rule, id)
	}
}

func (c *CompositeObserver) OnRuleFailed(ctx context.Context, rule Rule, err error) {
	for _, o := range c.observers {
		o.OnRuleFailed(ctx, rule, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs sync lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnEventReceived(ctx context.Context, ev *CanonicalEvent) {
	o.Logger.DebugContext(ctx, "event_received",
		slog.String("arn", ev.Arn),
		slog.String("workflow", ev.WorkflowName),
		slog.String("status", string(ev.Status)),
	)
}

func (o *LoggingObserver) OnRelationalWrite(ctx context.Context, ev *CanonicalEvent, id int64) {
	o.Logger.InfoContext(ctx, "relational_write",
		slog.String("arn", ev.Arn),
		slog.String("status", string(ev.Status)),
		slog.Int64("id", id),
	)
}

func (o *LoggingObserver) OnDocumentWrite(ctx context.Context, ev *CanonicalEvent) {
	o.Logger.InfoContext(ctx, "document_write",
		slog.String("arn", ev.Arn),
		slog.String("status", string(ev.Status)),
	)
}

func (o *LoggingObserver) OnWriteSkipped(ctx context.Context, ev *CanonicalEvent, reason error) {
	o.Logger.WarnContext(ctx, "relational_write_skipped",
		slog.String("arn", ev.Arn),
		slog.String("schema_version", ev.SchemaVersion),
		slog.Any("reason", reason),
	)
}

func (o *LoggingObserver) OnRuleWritten(ctx context.Context, rule Rule, id int64) {
	o.Logger.InfoContext(ctx, "rule_written",
		slog.String("rule", rule.Name),
		slog.String("workflow", rule.Workflow),
		slog.Int64("id", id),
	)
}

func (o *LoggingObserver) OnRuleFailed(ctx context.Context, rule Rule, err error) {
	o.Logger.ErrorContext(ctx, "rule_write_failed",
		slog.String("rule", rule.Name),
		slog.String("workflow", rule.Workflow),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters over the sync lifecycle.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	eventsReceived   atomic.Int64
	relationalWrites atomic.Int64
	documentWrites   atomic.Int64
	writesSkipped    atomic.Int64
	rulesWritten     atomic.Int64
	rulesFailed      atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	EventsReceived   int64
	RelationalWrites int64
	DocumentWrites   int64
	WritesSkipped    int64
	RulesWritten     int64
	RulesFailed      int64
}

func (m *BasicMetrics) OnEventReceived(ctx context.Context, ev *CanonicalEvent) {
	m.eventsReceived.Add(1)
}

func (m *BasicMetrics) OnRelationalWrite(ctx context.Context, ev *CanonicalEvent, id int64) {
	m.relationalWrites.Add(1)
}

func (m *BasicMetrics) OnDocumentWrite(ctx context.Context, ev *CanonicalEvent) {
	m.documentWrites.Add(1)
}

func (m *BasicMetrics) OnWriteSkipped(ctx context.Context, ev *CanonicalEvent, reason error) {
	m.writesSkipped.Add(1)
}

func (m *BasicMetrics) OnRuleWritten(ctx context.Context, rule Rule, id int64) {
	m.rulesWritten.Add(1)
}

func (m *BasicMetrics) OnRuleFailed(ctx context.Context, rule Rule, err error) {
	m.rulesFailed.Add(1)
}

// Snapshot returns a snapshot of the current counters.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		EventsReceived:   m.eventsReceived.Load(),
		RelationalWrites: m.relationalWrites.Load(),
		DocumentWrites:   m.documentWrites.Load(),
		WritesSkipped:    m.writesSkipped.Load(),
		RulesWritten:     m.rulesWritten.Load(),
		RulesFailed:      m.rulesFailed.Load(),
	}
}

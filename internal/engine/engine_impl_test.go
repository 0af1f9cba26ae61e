package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duplexhq/duplex/internal/persistence"
	"github.com/duplexhq/duplex/pkg/api"
)

const testBoundary = "1.9.0"

func newTestEngine(t *testing.T) (api.Engine, *persistence.InMemoryStore, *persistence.InMemoryDocumentStore) {
	t.Helper()

	rel := persistence.NewInMemoryStore()
	doc := persistence.NewInMemoryDocumentStore()
	eng, err := NewEngine(Config{
		Relational:        rel,
		Document:          doc,
		MigrationBoundary: testBoundary,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng, rel, doc
}

func terminalEvent(arn string) *api.CanonicalEvent {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &api.CanonicalEvent{
		Arn:           arn,
		WorkflowName:  "IngestGranule",
		Status:        api.StatusCompleted,
		SchemaVersion: "2.0.0",
		StartTime:     start,
		StopTime:      start.Add(5 * time.Second),
		Payload:       map[string]any{"granuleId": "g-1"},
	}
}

func runningEvent(arn string) *api.CanonicalEvent {
	ev := terminalEvent(arn)
	ev.Status = api.StatusRunning
	ev.StopTime = time.Time{}
	return ev
}

func TestSyncExecutionWritesBothStores(t *testing.T) {
	ctx := context.Background()
	eng, _, doc := newTestEngine(t)

	ev := terminalEvent("arn:ex:1")
	id, err := eng.SyncExecution(ctx, ev)
	if err != nil {
		t.Fatalf("SyncExecution failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero surrogate id")
	}

	rec, err := eng.GetExecution(ctx, ev.Arn)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if rec.Status != api.StatusCompleted {
		t.Fatalf("expected status %q, got %q", api.StatusCompleted, rec.Status)
	}
	if rec.WorkflowName != "IngestGranule" {
		t.Fatalf("unexpected workflow name %q", rec.WorkflowName)
	}
	if rec.URL != api.ExecutionURL("", ev.Arn) {
		t.Fatalf("unexpected url %q", rec.URL)
	}
	if rec.DurationSeconds != 5 {
		t.Fatalf("expected duration 5, got %d", rec.DurationSeconds)
	}
	if rec.Error == nil || len(rec.Error) != 0 {
		t.Fatalf("expected empty non-nil error document, got %v", rec.Error)
	}

	if _, ok := doc.GetExecution(ev.Arn); !ok {
		t.Fatal("expected event mirrored to the document store")
	}
}

func TestSyncExecutionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, rel, _ := newTestEngine(t)

	ev := terminalEvent("arn:ex:idem")
	id1, err := eng.SyncExecution(ctx, ev)
	if err != nil {
		t.Fatalf("first SyncExecution failed: %v", err)
	}
	id2, err := eng.SyncExecution(ctx, ev)
	if err != nil {
		t.Fatalf("second SyncExecution failed: %v", err)
	}

	if id1 != id2 {
		t.Fatalf("expected the same surrogate id for both writes, got %d and %d", id1, id2)
	}
	if n := rel.ExecutionCount(); n != 1 {
		t.Fatalf("expected exactly 1 execution row, got %d", n)
	}
}

func TestPayloadPlacementByStatus(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	running := runningEvent("arn:ex:run")
	if _, err := eng.SyncExecution(ctx, running); err != nil {
		t.Fatalf("SyncExecution(running) failed: %v", err)
	}
	rec, err := eng.GetExecution(ctx, running.Arn)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if rec.OriginalPayload == nil || rec.FinalPayload != nil {
		t.Fatalf("running event should fill original payload only, got original=%v final=%v",
			rec.OriginalPayload, rec.FinalPayload)
	}
	if rec.DurationSeconds != 0 {
		t.Fatalf("expected duration 0 while running, got %d", rec.DurationSeconds)
	}

	terminal := terminalEvent("arn:ex:done")
	if _, err := eng.SyncExecution(ctx, terminal); err != nil {
		t.Fatalf("SyncExecution(terminal) failed: %v", err)
	}
	rec, err = eng.GetExecution(ctx, terminal.Arn)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if rec.FinalPayload == nil || rec.OriginalPayload != nil {
		t.Fatalf("terminal event should fill final payload only, got original=%v final=%v",
			rec.OriginalPayload, rec.FinalPayload)
	}
}

func TestTerminalStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	arn := "arn:ex:mono"
	done := terminalEvent(arn)
	if _, err := eng.SyncExecution(ctx, done); err != nil {
		t.Fatalf("SyncExecution(terminal) failed: %v", err)
	}

	// A stale "running" event arrives after the terminal write.
	late := runningEvent(arn)
	late.StartTime = done.StartTime.Add(time.Minute)
	late.Payload = map[string]any{"granuleId": "g-1", "retry": true}
	if _, err := eng.SyncExecution(ctx, late); err != nil {
		t.Fatalf("SyncExecution(late running) failed: %v", err)
	}

	rec, err := eng.GetExecution(ctx, arn)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if rec.Status != api.StatusCompleted {
		t.Fatalf("terminal status regressed to %q", rec.Status)
	}
	if rec.FinalPayload == nil {
		t.Fatal("final payload was clobbered by a restricted merge")
	}
	if rec.OriginalPayload == nil || rec.OriginalPayload["retry"] != true {
		t.Fatalf("restricted merge should update the original payload, got %v", rec.OriginalPayload)
	}
	if !rec.CreatedAt.Equal(late.StartTime) {
		t.Fatalf("restricted merge should overwrite created_at, got %v want %v", rec.CreatedAt, late.StartTime)
	}
}

func TestPreMigrationEventRejected(t *testing.T) {
	ctx := context.Background()
	eng, rel, doc := newTestEngine(t)

	ev := terminalEvent("arn:ex:old")
	ev.SchemaVersion = "1.2.3"

	_, err := eng.SyncExecution(ctx, ev)
	if !errors.Is(err, api.ErrUnmetRequirements) {
		t.Fatalf("expected ErrUnmetRequirements, got %v", err)
	}
	if n := rel.ExecutionCount(); n != 0 {
		t.Fatalf("rejected event must write zero relational rows, got %d", n)
	}
	if n := doc.ExecutionWrites(); n != 0 {
		t.Fatalf("SyncExecution must not touch the document store on rejection, got %d writes", n)
	}
}

func TestUnparseableSchemaVersionRejected(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	ev := terminalEvent("arn:ex:bad-version")
	ev.SchemaVersion = "not-a-version"

	_, err := eng.SyncExecution(ctx, ev)
	if !errors.Is(err, api.ErrUnmetRequirements) {
		t.Fatalf("expected ErrUnmetRequirements, got %v", err)
	}
}

func TestUnresolvedReferenceBlocksWrite(t *testing.T) {
	ctx := context.Background()
	eng, rel, _ := newTestEngine(t)

	ev := terminalEvent("arn:ex:ref")
	ev.Collection = &api.CollectionRef{Name: "MODIS", Version: "006"}

	_, err := eng.SyncExecution(ctx, ev)
	if !errors.Is(err, api.ErrUnmetRequirements) {
		t.Fatalf("expected ErrUnmetRequirements for a missing collection, got %v", err)
	}
	if n := rel.ExecutionCount(); n != 0 {
		t.Fatalf("expected zero rows after rejection, got %d", n)
	}

	// Once the collection exists the same event goes through.
	collID, err := rel.CreateCollection(ctx, "MODIS", "006")
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if _, err := eng.SyncExecution(ctx, ev); err != nil {
		t.Fatalf("SyncExecution after seeding failed: %v", err)
	}

	rec, err := eng.GetExecution(ctx, ev.Arn)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if rec.CollectionID == nil || *rec.CollectionID != collID {
		t.Fatalf("expected collection id %d, got %v", collID, rec.CollectionID)
	}
}

func TestAllReferencesResolved(t *testing.T) {
	ctx := context.Background()
	eng, rel, _ := newTestEngine(t)

	parent := terminalEvent("arn:ex:parent")
	if _, err := eng.SyncExecution(ctx, parent); err != nil {
		t.Fatalf("SyncExecution(parent) failed: %v", err)
	}

	collID, err := rel.CreateCollection(ctx, "MODIS", "006")
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	opID, err := rel.CreateAsyncOperation(ctx, "op-42")
	if err != nil {
		t.Fatalf("CreateAsyncOperation failed: %v", err)
	}

	child := terminalEvent("arn:ex:child")
	child.Collection = &api.CollectionRef{Name: "MODIS", Version: "006"}
	child.AsyncOperationID = "op-42"
	child.ParentArn = parent.Arn

	if _, err := eng.SyncExecution(ctx, child); err != nil {
		t.Fatalf("SyncExecution(child) failed: %v", err)
	}

	rec, err := eng.GetExecution(ctx, child.Arn)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if rec.CollectionID == nil || *rec.CollectionID != collID {
		t.Fatalf("unexpected collection id %v", rec.CollectionID)
	}
	if rec.AsyncOperationID == nil || *rec.AsyncOperationID != opID {
		t.Fatalf("unexpected async operation id %v", rec.AsyncOperationID)
	}
	if rec.ParentID == nil {
		t.Fatal("expected a resolved parent id")
	}
}

func TestMirrorExecutionWritesDocumentOnly(t *testing.T) {
	ctx := context.Background()
	eng, rel, doc := newTestEngine(t)

	ev := terminalEvent("arn:ex:mirror")
	ev.SchemaVersion = "1.0.0" // below the boundary

	if _, err := eng.SyncExecution(ctx, ev); !errors.Is(err, api.ErrUnmetRequirements) {
		t.Fatalf("expected ErrUnmetRequirements, got %v", err)
	}
	if err := eng.MirrorExecution(ctx, ev); err != nil {
		t.Fatalf("MirrorExecution failed: %v", err)
	}

	if n := rel.ExecutionCount(); n != 0 {
		t.Fatalf("mirror must not write relational rows, got %d", n)
	}
	if _, ok := doc.GetExecution(ev.Arn); !ok {
		t.Fatal("expected the event in the document store after mirroring")
	}
}

func TestSyncRulesBatchIsolation(t *testing.T) {
	ctx := context.Background()
	eng, rel, doc := newTestEngine(t)

	occupy := terminalEvent("arn:ex:seed")
	occupy.Tasks = map[string]any{
		"rules": []any{
			map[string]any{"name": "rule-b"},
		},
	}
	if _, err := eng.SyncRules(ctx, occupy); err != nil {
		t.Fatalf("seeding rule-b failed: %v", err)
	}

	ev := terminalEvent("arn:ex:batch")
	ev.Tasks = map[string]any{
		"rules": []any{
			map[string]any{"name": "rule-a"},
			map[string]any{"name": "rule-b"}, // duplicate, must fail alone
			map[string]any{"name": "rule-c"},
		},
	}

	ids, err := eng.SyncRules(ctx, ev)
	if err == nil {
		t.Fatal("expected an aggregate error for the duplicate rule")
	}
	if !errors.Is(err, api.ErrRuleExists) {
		t.Fatalf("expected ErrRuleExists in the aggregate, got %v", err)
	}

	if len(ids) != 3 {
		t.Fatalf("expected positional ids for all 3 rules, got %d", len(ids))
	}
	if ids[0] == 0 || ids[2] == 0 {
		t.Fatalf("expected rule-a and rule-c to commit, got ids %v", ids)
	}
	if ids[1] != 0 {
		t.Fatalf("expected a zero id for the failed rule, got %d", ids[1])
	}

	// rule-b from the seed plus rule-a and rule-c.
	if n := rel.RuleCount(); n != 3 {
		t.Fatalf("expected 3 rule rows, got %d", n)
	}
	if n := doc.RuleWrites(); n != 3 {
		t.Fatalf("expected 3 document rule writes (1 seed + 2 batch), got %d", n)
	}

	if _, err := rel.GetRule(ctx, "rule-a"); err != nil {
		t.Fatalf("rule-a should exist: %v", err)
	}
	if _, err := rel.GetRule(ctx, "rule-c"); err != nil {
		t.Fatalf("rule-c should exist: %v", err)
	}
}

func TestSyncRulesNoRules(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	ids, err := eng.SyncRules(ctx, terminalEvent("arn:ex:norules"))
	if err != nil {
		t.Fatalf("SyncRules failed: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected no ids for an event without rules, got %v", ids)
	}
}

// failingRelationalStore rejects every transaction, to prove the document
// store is never invoked when the relational write fails.
type failingRelationalStore struct {
	persistence.RelationalStore
}

func (s *failingRelationalStore) InTx(ctx context.Context, fn func(tx persistence.RelationalTx) error) error {
	return errors.New("relational store unavailable")
}

func TestRelationalFailureSkipsDocumentWrite(t *testing.T) {
	ctx := context.Background()

	doc := persistence.NewInMemoryDocumentStore()
	eng, err := NewEngine(Config{
		Relational:        &failingRelationalStore{RelationalStore: persistence.NewInMemoryStore()},
		Document:          doc,
		MigrationBoundary: testBoundary,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.SyncExecution(ctx, terminalEvent("arn:ex:fail")); err == nil {
		t.Fatal("expected the relational failure to surface")
	}
	if n := doc.ExecutionWrites(); n != 0 {
		t.Fatalf("document store must not be touched after a relational failure, got %d writes", n)
	}
}

func TestNewEngineRequiresBoundary(t *testing.T) {
	_, err := NewEngine(Config{
		Relational: persistence.NewInMemoryStore(),
		Document:   persistence.NewInMemoryDocumentStore(),
	})
	if !errors.Is(err, api.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}

	_, err = NewEngine(Config{
		Relational:        persistence.NewInMemoryStore(),
		Document:          persistence.NewInMemoryDocumentStore(),
		MigrationBoundary: "garbage",
	})
	if !errors.Is(err, api.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing for an unparseable boundary, got %v", err)
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	ctx := context.Background()

	metrics := &api.BasicMetrics{}
	rel := persistence.NewInMemoryStore()
	eng, err := NewEngine(Config{
		Relational:        rel,
		Document:          persistence.NewInMemoryDocumentStore(),
		MigrationBoundary: testBoundary,
		Observer:          metrics,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.SyncExecution(ctx, terminalEvent("arn:ex:obs1")); err != nil {
		t.Fatalf("SyncExecution failed: %v", err)
	}

	old := terminalEvent("arn:ex:obs2")
	old.SchemaVersion = "0.9.0"
	if _, err := eng.SyncExecution(ctx, old); !errors.Is(err, api.ErrUnmetRequirements) {
		t.Fatalf("expected ErrUnmetRequirements, got %v", err)
	}

	snap := metrics.Snapshot()
	if snap.EventsReceived != 2 {
		t.Fatalf("expected 2 events received, got %d", snap.EventsReceived)
	}
	if snap.RelationalWrites != 1 {
		t.Fatalf("expected 1 relational write, got %d", snap.RelationalWrites)
	}
	if snap.DocumentWrites != 1 {
		t.Fatalf("expected 1 document write, got %d", snap.DocumentWrites)
	}
	if snap.WritesSkipped != 1 {
		t.Fatalf("expected 1 skipped write, got %d", snap.WritesSkipped)
	}
}

func TestDefaultRuleExtractor(t *testing.T) {
	ev := terminalEvent("arn:ex:extract")
	ev.Tasks = map[string]any{
		"rules": []any{
			map[string]any{"name": "r1", "workflow": "Other", "state": "DISABLED"},
			map[string]any{"name": "r2", "value": map[string]any{"k": "v"}},
			map[string]any{"workflow": "nameless"}, // ignored
			"not-a-map",                            // ignored
		},
	}

	rules := DefaultRuleExtractor(ev)
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Workflow != "Other" || rules[0].State != "DISABLED" {
		t.Fatalf("unexpected first rule %+v", rules[0])
	}
	if rules[1].Workflow != ev.WorkflowName {
		t.Fatalf("workflow should default to the event's, got %q", rules[1].Workflow)
	}
	if rules[1].Value["k"] != "v" {
		t.Fatalf("unexpected rule value %v", rules[1].Value)
	}
}

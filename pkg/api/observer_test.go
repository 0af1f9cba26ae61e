package api

import (
	"context"
	"errors"
	"testing"
)

func TestCompositeObserverFansOut(t *testing.T) {
	ctx := context.Background()
	m1 := &BasicMetrics{}
	m2 := &BasicMetrics{}

	obs := NewCompositeObserver(m1, NoopObserver{}, m2)

	ev := &CanonicalEvent{Arn: "arn:obs"}
	obs.OnEventReceived(ctx, ev)
	obs.OnRelationalWrite(ctx, ev, 1)
	obs.OnDocumentWrite(ctx, ev)
	obs.OnWriteSkipped(ctx, ev, errors.New("skip"))
	obs.OnRuleWritten(ctx, Rule{Name: "r"}, 2)
	obs.OnRuleFailed(ctx, Rule{Name: "r"}, errors.New("boom"))

	for i, m := range []*BasicMetrics{m1, m2} {
		snap := m.Snapshot()
		if snap.EventsReceived != 1 || snap.RelationalWrites != 1 || snap.DocumentWrites != 1 ||
			snap.WritesSkipped != 1 || snap.RulesWritten != 1 || snap.RulesFailed != 1 {
			t.Fatalf("observer %d missed callbacks: %+v", i, snap)
		}
	}
}

func TestCompositeObserverCollapsesSingle(t *testing.T) {
	m := &BasicMetrics{}
	if obs := NewCompositeObserver(m); obs != Observer(m) {
		t.Fatal("a single observer should be returned as-is")
	}
}

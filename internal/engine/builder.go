package engine

import (
	"time"

	"github.com/duplexhq/duplex/pkg/api"
)

// buildExecutionRecord transforms an event plus resolved references into the
// normalized relational row. It is deterministic and side-effect free: the
// caller supplies the clock time so repeated builds are reproducible.
//
// created_at is stamped from the event's declared start time on every build,
// not from the wall clock. "First event wins" for created_at is not the
// builder's job; whether a later write may move it is decided entirely by
// the merge policy's allowed-update set.
func buildExecutionRecord(ev *api.CanonicalEvent, refs references, region string, now time.Time) *api.ExecutionRecord {
	rec := &api.ExecutionRecord{
		Arn:             ev.Arn,
		Status:          ev.Status,
		URL:             api.ExecutionURL(region, ev.Arn),
		WorkflowName:    ev.WorkflowName,
		Tasks:           ev.Tasks,
		DurationSeconds: ev.Duration(),
		Error:           ev.Error,
		CreatedAt:       ev.StartTime,
		UpdatedAt:       now,
		Timestamp:       now,

		CollectionID:     refs.collectionID,
		AsyncOperationID: refs.asyncOperationID,
		ParentID:         refs.parentID,
	}

	// Exactly one payload column is meaningful, selected by terminal
	// classification. The other stays absent.
	if ev.Status.Terminal() {
		rec.FinalPayload = ev.Payload
	} else {
		rec.OriginalPayload = ev.Payload
	}

	// The error column is never null.
	if rec.Error == nil {
		rec.Error = map[string]any{}
	}

	return rec
}

// buildRuleRecord normalizes one extracted rule into its relational row.
func buildRuleRecord(rule api.Rule, now time.Time) *api.RuleRecord {
	state := rule.State
	if state == "" {
		state = "ENABLED"
	}
	return &api.RuleRecord{
		Name:      rule.Name,
		Workflow:  rule.Workflow,
		State:     state,
		Value:     rule.Value,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

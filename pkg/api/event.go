package api

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a workflow execution.
//
// "running" is the only non-terminal value; every other value the upstream
// workflow engine emits (completed, failed, aborted, timed_out, ...) is
// treated as terminal. Once a record has reached a terminal status it must
// never regress to running, no matter how late a stale "running" event
// arrives.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is terminal. Unknown status values
// classify as terminal: only "running" may be superseded.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// CollectionRef identifies a collection by its natural key.
type CollectionRef struct {
	Name    string
	Version string
}

// CanonicalEvent is an immutable snapshot of a workflow execution's metadata
// at a point in time, as delivered by the upstream queue.
//
// Events may arrive out of order and duplicated; the sync engine's merge
// policy is the sole mechanism that keeps the stores consistent under
// arbitrary interleaving.
type CanonicalEvent struct {
	// Arn is the globally unique execution identifier.
	Arn string

	// WorkflowName is the name of the state machine that produced the event.
	WorkflowName string

	Status Status

	// SchemaVersion is the semantic version of the deployment that emitted
	// the event. Events older than the configured migration boundary are not
	// written to the relational store.
	SchemaVersion string

	StartTime time.Time

	// StopTime is zero while the execution is still running.
	StopTime time.Time

	// Tasks is the task-definition map carried by the event. Opaque here.
	Tasks map[string]any

	// Payload is the execution's input or output document. Opaque here;
	// where it lands in the relational record depends on Status.
	Payload map[string]any

	// Error is the captured exception, if the execution failed. Nil means
	// no error was captured.
	Error map[string]any

	// Collection, AsyncOperationID and ParentArn are optional references to
	// other entities. An empty/nil reference is simply absent; a present
	// reference that cannot be resolved blocks the relational write.
	Collection       *CollectionRef
	AsyncOperationID string
	ParentArn        string
}

// Validate checks the fields every event must carry.
func (e *CanonicalEvent) Validate() error {
	if e.Arn == "" {
		return errors.New("event arn is required")
	}
	if e.WorkflowName == "" {
		return errors.New("event workflow name is required")
	}
	if e.Status == "" {
		return errors.New("event status is required")
	}
	if e.StartTime.IsZero() {
		return errors.New("event start time is required")
	}
	return nil
}

// Duration returns the execution duration in whole seconds, or 0 while no
// stop time is present.
func (e *CanonicalEvent) Duration() int64 {
	if e.StopTime.IsZero() {
		return 0
	}
	return int64(e.StopTime.Sub(e.StartTime) / time.Second)
}

// ExecutionArn derives the execution identifier from a state machine
// identifier and an execution name.
func ExecutionArn(stateMachineArn, executionName string) string {
	return strings.Replace(stateMachineArn, ":stateMachine:", ":execution:", 1) + ":" + executionName
}

// ExecutionURL returns the console deep-link for an execution. It is a pure
// function of the arn and region and is recomputed on every record build.
func ExecutionURL(region, arn string) string {
	if region == "" {
		region = "us-east-1"
	}
	return "https://console.aws.amazon.com/states/home?region=" + region + "#/executions/details/" + arn
}

// Rule is a named dependent entity extracted from an event's metadata.
// Many rules may be associated with one event; each rule's write is
// independent of the others.
type Rule struct {
	Name     string
	Workflow string
	State    string
	Value    map[string]any
}

// Validate checks the fields every rule must carry.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if r.Workflow == "" {
		return errors.New("rule workflow is required")
	}
	return nil
}

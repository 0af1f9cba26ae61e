package api

import "time"

// ExecutionRecord is the normalized relational row for one workflow
// execution, keyed on Arn.
//
// Invariants:
//   - OriginalPayload and FinalPayload are mutually exclusive in effect:
//     while the execution is running only OriginalPayload is meaningful,
//     once it is terminal only FinalPayload is.
//   - Error is never nil; an execution without a captured exception carries
//     an empty object.
type ExecutionRecord struct {
	// ID is the relational surrogate identifier, assigned by the store on
	// first insert. Zero until the record has been written.
	ID int64

	Arn          string
	Status       Status
	URL          string
	WorkflowName string

	Tasks map[string]any

	// DurationSeconds is (stop - start) in whole seconds, 0 while running.
	DurationSeconds int64

	OriginalPayload map[string]any
	FinalPayload    map[string]any
	Error           map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time

	// Timestamp is when the event underlying this record was observed.
	Timestamp time.Time

	// Nullable foreign-key surrogates. Nil means the event declared no such
	// reference; they are never zero-valued stand-ins.
	CollectionID     *int64
	AsyncOperationID *int64
	ParentID         *int64
}

// RuleRecord is the normalized relational row for one rule.
type RuleRecord struct {
	ID int64

	Name     string
	Workflow string
	State    string
	Value    map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

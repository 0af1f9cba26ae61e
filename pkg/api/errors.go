package api

import "errors"

var (
	// ErrConfigurationMissing is returned when required process
	// configuration (such as the migration boundary version) is absent.
	// It is fatal and must not be retried.
	ErrConfigurationMissing = errors.New("required configuration missing")

	// ErrUnmetRequirements is returned when an event does not meet the
	// preconditions for a relational write: its schema version predates the
	// migration boundary, or a reference it declares could not be resolved.
	// The relational write is skipped entirely; the caller decides whether
	// the event is still mirrored to the document store.
	ErrUnmetRequirements = errors.New("event does not meet relational write requirements")

	// ErrReferenceNotFound signals that a reference declared by an event is
	// present but could not be resolved to a relational surrogate id. It is
	// always translated to ErrUnmetRequirements before crossing the
	// requirement gate boundary.
	ErrReferenceNotFound = errors.New("referenced entity not found")

	// ErrDocumentWrite wraps a document-store failure that occurred after
	// the relational transaction committed. The relational write remains in
	// place; the inconsistency window is the caller's to reconcile.
	ErrDocumentWrite = errors.New("document store write failed")

	// ErrExecutionNotFound is returned by read paths when no record exists
	// for the requested arn.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrRuleExists is returned when a rule write collides with an existing
	// rule of the same name. Rule writes are insert-only.
	ErrRuleExists = errors.New("rule already exists")

	// ErrRuleNotFound is returned by read paths when no rule exists with
	// the requested name.
	ErrRuleNotFound = errors.New("rule not found")
)

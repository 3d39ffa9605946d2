// Package coreerrors defines the closed, enumerable error taxonomy used
// across the evaluation core (spec.md §7). Each kind is its own Go type
// rather than a sentinel, so callers can errors.As into the one they care
// about and inspect its fields.
package coreerrors

import (
	"errors"
	"fmt"
)

// InputValidationError reports a malformed input record or a missing
// required field. Surfaced to the caller as a 400-class failure.
type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RuleCompileError reports a rule that failed compilation: unknown
// operator, malformed constant, or a reference to a missing condition.
// A single failure rejects the whole reload (spec.md §4.4).
type RuleCompileError struct {
	RuleID string
	Reason string
	Cause  error
}

func (e *RuleCompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rule %s: %s: %v", e.RuleID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

func (e *RuleCompileError) Unwrap() error { return e.Cause }

// RuleEvaluationError reports a runtime failure evaluating one compiled
// rule against a data record. Recovered locally: the rule is counted as
// no-match and a warning is logged; execution proceeds.
type RuleEvaluationError struct {
	RuleID string
	Cause  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s evaluation failed: %v", e.RuleID, e.Cause)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Cause }

// DMNParseError reports malformed XML or a required DMN element missing
// from a decision document.
type DMNParseError struct {
	DecisionID string
	Reason     string
	Cause      error
}

func (e *DMNParseError) Error() string {
	prefix := "dmn parse"
	if e.DecisionID != "" {
		prefix = fmt.Sprintf("dmn parse (decision %s)", e.DecisionID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

func (e *DMNParseError) Unwrap() error { return e.Cause }

// DependencyCycleError reports that the DMN decision graph's topological
// sort could not complete. Non-fatal: the scheduler falls back to the
// document's declared order and logs this as a warning (spec.md §4.3).
type DependencyCycleError struct {
	Decisions []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among decisions: %v", e.Decisions)
}

// WorkflowStageUnknown reports a dispatch to a stage name the injected
// HandlerFactory does not recognize.
type WorkflowStageUnknown struct {
	Stage string
}

func (e *WorkflowStageUnknown) Error() string {
	return fmt.Sprintf("unknown workflow stage: %q", e.Stage)
}

// StorageError surfaces a Repository or database failure. The request
// fails and no execution log is written for it.
type StorageError struct {
	Op      string
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// CancelledError reports that the caller cancelled the request context.
// Surfaced with no execution log emission.
type CancelledError struct {
	Op string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s: cancelled", e.Op)
}

// IsRecoverable reports whether err is one of the kinds the pipeline
// recovers from locally (rule treated as no-match) rather than
// surfacing to the caller.
func IsRecoverable(err error) bool {
	var evalErr *RuleEvaluationError
	return errors.As(err, &evalErr)
}

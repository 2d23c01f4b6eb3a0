package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

var (
	// ErrNotReady is returned when commit is attempted before every item is decided.
	ErrNotReady = errors.New("not every item has a valid decision")
	// ErrCommitInFlight is returned for commands issued while a commit is running.
	ErrCommitInFlight = errors.New("a commit is already in flight")
	// ErrPoliciesLoading is returned for commands issued before policies resolve.
	ErrPoliciesLoading = errors.New("policies are still loading")
	// ErrWorkflowClosed is returned for commands issued after the workflow closed.
	ErrWorkflowClosed = errors.New("workflow is closed")
	// ErrInvalidTransition is returned when a command is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrActionNotAllowed is returned when an action is not legal for an item.
	ErrActionNotAllowed = errors.New("action not allowed for item")
	// ErrUnknownItem is returned when a decision targets an item not in scope.
	ErrUnknownItem = errors.New("unknown work item")
	// ErrAlreadyCommitted is returned when editing a decision that has
	// already taken effect in the system of record.
	ErrAlreadyCommitted = errors.New("decision already committed")
)

// ValidationError is a locally rejected input. It never reaches the store.
type ValidationError struct {
	WorkItemID string
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s for %s: %s", e.Field, e.WorkItemID, e.Message)
}

// CommitStatus classifies a failed commit by what reached the system of record.
type CommitStatus string

const (
	// CommitNothingApplied means no lane produced a permanent effect.
	CommitNothingApplied CommitStatus = "nothing_applied"
	// CommitPartiallyApplied means some effects are permanent and others are
	// missing; the user must act on the listed items.
	CommitPartiallyApplied CommitStatus = "partially_applied"
)

// CommitError reports a commit attempt that did not fully succeed.
type CommitError struct {
	Status CommitStatus
	// BatchErr is set when the batch lane failed.
	BatchErr error
	// FailedApprovals lists approval-lane items without a ticket.
	FailedApprovals []models.ApprovalRequestResult
	// Result carries whatever did take effect, cumulative across retries.
	Result *models.CommitResult
}

func (e *CommitError) Error() string {
	var b strings.Builder
	if e.Status == CommitPartiallyApplied {
		b.WriteString("commit partially applied")
	} else {
		b.WriteString("commit failed")
	}
	if e.BatchErr != nil {
		fmt.Fprintf(&b, ": batch resolution: %v", e.BatchErr)
	}
	if len(e.FailedApprovals) > 0 {
		ids := make([]string, len(e.FailedApprovals))
		for i, f := range e.FailedApprovals {
			ids[i] = f.WorkItemID
		}
		fmt.Fprintf(&b, ": approval requests failed for %s", strings.Join(ids, ", "))
	}
	return b.String()
}

func (e *CommitError) Unwrap() []error {
	var errs []error
	if e.BatchErr != nil {
		errs = append(errs, e.BatchErr)
	}
	for _, f := range e.FailedApprovals {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Partial reports whether some effects already reached the system of record.
func (e *CommitError) Partial() bool { return e.Status == CommitPartiallyApplied }

// SubmissionError wraps a failure of the final report submission.
type SubmissionError struct {
	Scope models.Scope
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("finalizing report submission for %s: %v", e.Scope, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

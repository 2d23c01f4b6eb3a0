package models

import "fmt"

// Action is the disposition chosen for an unresolved work item.
type Action string

const (
	ActionCarryOver   Action = "carry_over"
	ActionDrop        Action = "drop"
	ActionRequestDrop Action = "request_drop"
)

// ParseAction converts a user-facing string to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCarryOver, ActionDrop, ActionRequestDrop:
		return Action(s), nil
	}
	switch s {
	case "carry", "carryover", "carry-over":
		return ActionCarryOver, nil
	case "request-drop", "requestdrop":
		return ActionRequestDrop, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// IsBatch reports whether the action is executed in the batch lane.
func (a Action) IsBatch() bool {
	return a == ActionCarryOver || a == ActionDrop
}

// MinReasonLength is the minimum trimmed length of a drop justification.
const MinReasonLength = 5

// PendingDecision is a decision queued in session memory for one work item.
// Reason is only meaningful when Action is ActionRequestDrop.
type PendingDecision struct {
	WorkItemID string `yaml:"work_item_id" json:"work_item_id"`
	Action     Action `yaml:"action" json:"action"`
	Reason     string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// BatchResolution is one entry of the batch lane.
type BatchResolution struct {
	WorkItemID string `json:"work_item_id"`
	Action     Action `json:"action"`
}

// ApprovalRequest is one entry of the approval lane.
type ApprovalRequest struct {
	WorkItemID string `json:"work_item_id"`
	Reason     string `json:"reason"`
	Title      string `json:"title"`
	// RequestKey makes resubmission of the same request idempotent.
	RequestKey string `json:"request_key"`
}

// BatchCounts is the outcome of a successful batch call.
type BatchCounts struct {
	CarriedOver int `json:"carried_over"`
	Dropped     int `json:"dropped"`
}

// ApprovalRequestResult records the outcome of one approval-lane call.
type ApprovalRequestResult struct {
	WorkItemID string `json:"work_item_id"`
	TicketID   string `json:"ticket_id,omitempty"`
	Err        error  `json:"-"`
}

// OK reports whether the ticket was created.
func (r ApprovalRequestResult) OK() bool { return r.Err == nil && r.TicketID != "" }

// CommitResult aggregates the outcome of both commit lanes.
type CommitResult struct {
	CarriedOverCount       int                     `json:"carried_over_count"`
	DroppedCount           int                     `json:"dropped_count"`
	ApprovalRequestResults []ApprovalRequestResult `json:"approval_request_results"`
}

// FailedApprovals returns the approval results that did not produce a ticket.
func (r *CommitResult) FailedApprovals() []ApprovalRequestResult {
	var failed []ApprovalRequestResult
	for _, a := range r.ApprovalRequestResults {
		if !a.OK() {
			failed = append(failed, a)
		}
	}
	return failed
}

// TicketsCreated counts the approval tickets that were created.
func (r *CommitResult) TicketsCreated() int {
	n := 0
	for _, a := range r.ApprovalRequestResults {
		if a.OK() {
			n++
		}
	}
	return n
}

package core

import (
	"fmt"
	"strings"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// DecisionLedger accumulates pending decisions for one workflow instance.
// Nothing recorded here is sent anywhere until the ledger is built and
// committed. The ledger is owned by a single workflow and is not safe for
// concurrent use on its own.
type DecisionLedger struct {
	decisions map[string]models.PendingDecision
	// frozen is set while a commit consumes the ledger.
	frozen bool
	// committed holds items whose decision already took effect.
	committed map[string]bool
}

// NewDecisionLedger returns a ledger pre-populated with seed decisions.
func NewDecisionLedger(seed map[string]models.PendingDecision) *DecisionLedger {
	l := &DecisionLedger{
		decisions: make(map[string]models.PendingDecision, len(seed)),
		committed: make(map[string]bool),
	}
	for id, d := range seed {
		d.WorkItemID = id
		l.decisions[id] = d
	}
	return l
}

func (l *DecisionLedger) checkMutable(itemID string) error {
	if l.frozen {
		return ErrCommitInFlight
	}
	if l.committed[itemID] {
		return fmt.Errorf("%w: %s", ErrAlreadyCommitted, itemID)
	}
	return nil
}

// SetDecision records action for the item, overwriting any previous decision.
// A stored reason survives only if the new action is RequestDrop and the
// previous action was RequestDrop too; any other change discards it.
func (l *DecisionLedger) SetDecision(itemID string, action models.Action) error {
	if err := l.checkMutable(itemID); err != nil {
		return err
	}
	if _, err := models.ParseAction(string(action)); err != nil {
		return &ValidationError{WorkItemID: itemID, Field: "action", Message: err.Error()}
	}
	d := models.PendingDecision{WorkItemID: itemID, Action: action}
	if prev, ok := l.decisions[itemID]; ok && prev.Action == models.ActionRequestDrop && action == models.ActionRequestDrop {
		d.Reason = prev.Reason
	}
	l.decisions[itemID] = d
	return nil
}

// QueueDropRequest records a RequestDrop decision with its justification.
// On validation failure the previous decision is left untouched.
func (l *DecisionLedger) QueueDropRequest(itemID, reason string) error {
	if err := l.checkMutable(itemID); err != nil {
		return err
	}
	if !ValidReason(reason) {
		return &ValidationError{
			WorkItemID: itemID,
			Field:      "reason",
			Message:    fmt.Sprintf("must be at least %d characters", models.MinReasonLength),
		}
	}
	l.decisions[itemID] = models.PendingDecision{
		WorkItemID: itemID,
		Action:     models.ActionRequestDrop,
		Reason:     strings.TrimSpace(reason),
	}
	return nil
}

// CancelDecision returns the item to undecided, discarding any reason.
func (l *DecisionLedger) CancelDecision(itemID string) error {
	if err := l.checkMutable(itemID); err != nil {
		return err
	}
	delete(l.decisions, itemID)
	return nil
}

// Get returns the decision for the item, if any.
func (l *DecisionLedger) Get(itemID string) (models.PendingDecision, bool) {
	d, ok := l.decisions[itemID]
	return d, ok
}

// Len returns the number of recorded decisions.
func (l *DecisionLedger) Len() int { return len(l.decisions) }

// Build returns a copy of every recorded decision.
func (l *DecisionLedger) Build() map[string]models.PendingDecision {
	out := make(map[string]models.PendingDecision, len(l.decisions))
	for id, d := range l.decisions {
		out[id] = d
	}
	return out
}

// Freeze makes the ledger read-only for the duration of a commit.
func (l *DecisionLedger) Freeze() { l.frozen = true }

// Unfreeze makes the ledger editable again after a commit attempt.
func (l *DecisionLedger) Unfreeze() { l.frozen = false }

// MarkCommitted locks the item's decision because it already took effect.
func (l *DecisionLedger) MarkCommitted(itemID string) { l.committed[itemID] = true }

// IsCommitted reports whether the item's decision already took effect.
func (l *DecisionLedger) IsCommitted(itemID string) bool { return l.committed[itemID] }

// Discard drops every decision. The ledger is unusable afterwards.
func (l *DecisionLedger) Discard() {
	l.decisions = make(map[string]models.PendingDecision)
	l.committed = make(map[string]bool)
	l.frozen = true
}

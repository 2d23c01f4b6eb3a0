package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// ResolvableItems normalizes listed items onto the closed enums, keeps only
// those that still need a disposition and sorts them by ID. A label outside
// the closed sets fails the whole listing rather than being guessed at.
func ResolvableItems(listed []models.WorkItem) ([]models.WorkItem, error) {
	var items []models.WorkItem
	for _, item := range listed {
		norm, err := item.Normalize()
		if err != nil {
			return nil, fmt.Errorf("normalizing listed items: %w", err)
		}
		if !norm.Status.NeedsResolution() {
			continue
		}
		items = append(items, norm)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// IsCarryOverEligible reports whether the item may still be carried over.
func IsCarryOverEligible(item models.WorkItem) bool {
	return !item.CarryOverState.IsTerminal()
}

// NextScoreCeiling returns the maximum achievable score the item would have
// after one more carry-over. ok is false when no further carry-over exists.
func NextScoreCeiling(item models.WorkItem, schedule models.CarryOverSchedule) (ceiling float64, ok bool) {
	switch item.CarryOverState {
	case models.CarryNormal:
		return schedule.CeilingAfterFirstCarry, true
	case models.CarryCarriedOnce:
		return schedule.CeilingAfterSecondCarry, true
	default:
		return 0, false
	}
}

// IsApprovalRequired reports whether dropping the item must be escalated.
func IsApprovalRequired(item models.WorkItem, policy models.DropApprovalPolicy) bool {
	return policy.RequiresApproval(item.Priority)
}

// LegalActions returns the actions a user may pick for the item. Drop and
// RequestDrop are mutually exclusive: the policy decides which one is offered.
func LegalActions(item models.WorkItem, policy models.DropApprovalPolicy) []models.Action {
	actions := make([]models.Action, 0, 2)
	if IsCarryOverEligible(item) {
		actions = append(actions, models.ActionCarryOver)
	}
	if IsApprovalRequired(item, policy) {
		actions = append(actions, models.ActionRequestDrop)
	} else {
		actions = append(actions, models.ActionDrop)
	}
	return actions
}

// IsActionLegal reports whether action is among LegalActions for the item.
func IsActionLegal(item models.WorkItem, policy models.DropApprovalPolicy, action models.Action) bool {
	for _, a := range LegalActions(item, policy) {
		if a == action {
			return true
		}
	}
	return false
}

// SeedDefaultDecisions pre-selects Drop for every item whose only legal,
// non-escalating action is Drop. Every other item starts undecided.
func SeedDefaultDecisions(items []models.WorkItem, policy models.DropApprovalPolicy) map[string]models.PendingDecision {
	seeded := make(map[string]models.PendingDecision)
	for _, item := range items {
		if !IsCarryOverEligible(item) && !IsApprovalRequired(item, policy) {
			seeded[item.ID] = models.PendingDecision{WorkItemID: item.ID, Action: models.ActionDrop}
		}
	}
	return seeded
}

// Partition is the split of decisions into the two execution lanes.
type Partition struct {
	BatchResolutions []models.BatchResolution
	ApprovalRequests []models.ApprovalRequest
}

// Size returns the total number of entries across both lanes.
func (p Partition) Size() int { return len(p.BatchResolutions) + len(p.ApprovalRequests) }

// PartitionDecisions splits decisions into the batch lane (CarryOver, Drop)
// and the approval lane (RequestDrop). titles supplies display titles for
// approval tickets and may be nil. Output order is sorted by work item ID.
func PartitionDecisions(decisions map[string]models.PendingDecision, titles map[string]string) Partition {
	ids := make([]string, 0, len(decisions))
	for id := range decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var p Partition
	for _, id := range ids {
		d := decisions[id]
		switch d.Action {
		case models.ActionCarryOver, models.ActionDrop:
			p.BatchResolutions = append(p.BatchResolutions, models.BatchResolution{WorkItemID: id, Action: d.Action})
		case models.ActionRequestDrop:
			p.ApprovalRequests = append(p.ApprovalRequests, models.ApprovalRequest{
				WorkItemID: id,
				Reason:     strings.TrimSpace(d.Reason),
				Title:      titles[id],
			})
		}
	}
	return p
}

// ValidReason reports whether reason meets the minimum justification length.
func ValidReason(reason string) bool {
	return len([]rune(strings.TrimSpace(reason))) >= models.MinReasonLength
}

// IsDecisionComplete reports whether d is a usable decision on its own.
func IsDecisionComplete(d models.PendingDecision) bool {
	switch d.Action {
	case models.ActionCarryOver, models.ActionDrop:
		return true
	case models.ActionRequestDrop:
		return ValidReason(d.Reason)
	default:
		return false
	}
}

// UndecidedItems returns the IDs of eligible items that lack a complete
// decision, in input order.
func UndecidedItems(items []models.WorkItem, decisions map[string]models.PendingDecision) []string {
	var missing []string
	for _, item := range items {
		if !item.Status.NeedsResolution() {
			continue
		}
		d, ok := decisions[item.ID]
		if !ok || !IsDecisionComplete(d) {
			missing = append(missing, item.ID)
		}
	}
	return missing
}

// IsReady reports whether every eligible item has a complete decision.
func IsReady(items []models.WorkItem, decisions map[string]models.PendingDecision) bool {
	return len(UndecidedItems(items, decisions)) == 0
}

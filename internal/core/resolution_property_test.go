package core

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

func genCarryState(t *rapid.T) models.CarryOverState {
	return rapid.SampledFrom([]models.CarryOverState{
		models.CarryNormal, models.CarryCarriedOnce, models.CarryCarriedTwice,
	}).Draw(t, "carry")
}

func genPriority(t *rapid.T) models.PriorityCategory {
	return rapid.SampledFrom(models.AllPriorityCategories).Draw(t, "priority")
}

func genPolicy(t *rapid.T) models.DropApprovalPolicy {
	p := models.DropApprovalPolicy{}
	for _, c := range models.AllPriorityCategories {
		p[c] = rapid.Bool().Draw(t, "approval_"+string(c))
	}
	return p
}

func genItems(t *rapid.T) []models.WorkItem {
	n := rapid.IntRange(0, 12).Draw(t, "nItems")
	items := make([]models.WorkItem, n)
	for i := range items {
		items[i] = item(fmt.Sprintf("AP-%03d", i), genPriority(t), genCarryState(t))
	}
	return items
}

func genAction(t *rapid.T) models.Action {
	return rapid.SampledFrom([]models.Action{
		models.ActionCarryOver, models.ActionDrop, models.ActionRequestDrop,
	}).Draw(t, "action")
}

// Items that were carried twice are never carry-over eligible and are never
// offered CarryOver.
func TestProperty_CarriedTwiceNeverCarriesOver(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		it := item("X", genPriority(t), models.CarryCarriedTwice)
		policy := genPolicy(t)

		if IsCarryOverEligible(it) {
			t.Fatal("CarriedTwice item reported eligible")
		}
		if IsActionLegal(it, policy, models.ActionCarryOver) {
			t.Fatal("CarryOver offered for CarriedTwice item")
		}
	})
}

// The next ceiling is exactly the configured value for each ladder step.
func TestProperty_NextScoreCeilingFollowsSchedule(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		schedule := models.CarryOverSchedule{
			CeilingAfterFirstCarry:  float64(rapid.IntRange(0, 100).Draw(t, "first")),
			CeilingAfterSecondCarry: float64(rapid.IntRange(0, 100).Draw(t, "second")),
		}
		state := genCarryState(t)
		got, ok := NextScoreCeiling(item("X", models.PriorityLow, state), schedule)

		switch state {
		case models.CarryNormal:
			if !ok || got != schedule.CeilingAfterFirstCarry {
				t.Fatalf("Normal: got %v,%v", got, ok)
			}
		case models.CarryCarriedOnce:
			if !ok || got != schedule.CeilingAfterSecondCarry {
				t.Fatalf("CarriedOnce: got %v,%v", got, ok)
			}
		case models.CarryCarriedTwice:
			if ok {
				t.Fatalf("CarriedTwice: got %v,%v", got, ok)
			}
		}
	})
}

// Partition is total and disjoint over decided items.
func TestProperty_PartitionTotalAndDisjoint(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		decisions := make(map[string]models.PendingDecision, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("AP-%03d", i)
			decisions[id] = models.PendingDecision{WorkItemID: id, Action: genAction(t), Reason: "because"}
		}

		p := PartitionDecisions(decisions, nil)

		seen := make(map[string]int)
		for _, b := range p.BatchResolutions {
			if !b.Action.IsBatch() {
				t.Fatalf("non-batch action %s in batch lane", b.Action)
			}
			seen[b.WorkItemID]++
		}
		for _, a := range p.ApprovalRequests {
			if decisions[a.WorkItemID].Action != models.ActionRequestDrop {
				t.Fatalf("%s routed to approval lane with action %s", a.WorkItemID, decisions[a.WorkItemID].Action)
			}
			seen[a.WorkItemID]++
		}
		if p.Size() != len(decisions) {
			t.Fatalf("partition size %d != decisions %d", p.Size(), len(decisions))
		}
		for id := range decisions {
			if seen[id] != 1 {
				t.Fatalf("%s appears %d times", id, seen[id])
			}
		}
	})
}

// Readiness is false exactly when some eligible item lacks a complete decision.
func TestProperty_Readiness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := genItems(t)
		decisions := make(map[string]models.PendingDecision)
		wantReady := true
		for _, it := range items {
			if !rapid.Bool().Draw(t, "decided_"+it.ID) {
				wantReady = false
				continue
			}
			a := genAction(t)
			reason := ""
			if a == models.ActionRequestDrop {
				reason = rapid.StringMatching(`[ a-z]{0,8}`).Draw(t, "reason_"+it.ID)
				if !ValidReason(reason) {
					wantReady = false
				}
			}
			decisions[it.ID] = models.PendingDecision{WorkItemID: it.ID, Action: a, Reason: reason}
		}

		if got := IsReady(items, decisions); got != wantReady {
			t.Fatalf("IsReady = %v, want %v (decisions %+v)", got, wantReady, decisions)
		}
	})
}

// Seeding only ever pre-selects Drop, and only where Drop is the sole legal action.
func TestProperty_SeedOnlyWhereDropIsOnlyOption(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := genItems(t)
		policy := genPolicy(t)
		seeded := SeedDefaultDecisions(items, policy)

		for _, it := range items {
			legal := LegalActions(it, policy)
			onlyDrop := len(legal) == 1 && legal[0] == models.ActionDrop
			d, ok := seeded[it.ID]
			if onlyDrop != ok {
				t.Fatalf("%s: seeded=%v but legal=%v", it.ID, ok, legal)
			}
			if ok && d.Action != models.ActionDrop {
				t.Fatalf("%s seeded with %s", it.ID, d.Action)
			}
		}
	})
}

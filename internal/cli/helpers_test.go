package cli

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/storage"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

var finMarch = models.Scope{Department: "FIN", Month: 3, Year: 2026}

// testPlans seeds one plan per interesting case:
// AP-1 needs approval to drop, AP-2 has one carry left, AP-3 can only be
// dropped, AP-4 needs approval and AP-9 belongs to another department.
func testPlans() []models.WorkItem {
	ops := models.Scope{Department: "OPS", Month: 3, Year: 2026}
	return []models.WorkItem{
		{ID: "AP-1", Title: "Close Q1 ledger", Owner: "alice", Scope: finMarch, Category: "High (board)", Status: models.StatusOpen},
		{ID: "AP-2", Title: "Vendor review", Owner: "bob", Scope: finMarch, Category: "Medium", Status: models.StatusInProgress, CarryOverState: models.CarryCarriedOnce, MaxScore: 80},
		{ID: "AP-3", Title: "Archive invoices", Owner: "bob", Scope: finMarch, Category: "Low", Status: models.StatusOpen, CarryOverState: models.CarryCarriedTwice, MaxScore: 50},
		{ID: "AP-4", Title: "Audit prep", Owner: "carol", Scope: finMarch, Category: "UH", Status: models.StatusBlocked},
		{ID: "AP-9", Title: "Fleet renewal", Owner: "dave", Scope: ops, Category: "Low", Status: models.StatusOpen},
	}
}

// setupServices points the package-level services at a file store in a
// temporary directory and restores the previous values when the test ends.
func setupServices(t *testing.T) *storage.FileStore {
	t.Helper()

	fs := storage.NewFileStore(t.TempDir(), zap.NewNop())
	ctx := context.Background()
	if err := fs.SavePolicies(ctx, models.PolicyDocument{
		CarryOver:    models.DefaultCarryOverSchedule(),
		DropApproval: models.DropApprovalPolicy{models.PriorityUltraHigh: true, models.PriorityHigh: true},
	}); err != nil {
		t.Fatalf("saving policies: %v", err)
	}
	if err := fs.ImportPlans(ctx, testPlans()); err != nil {
		t.Fatalf("importing plans: %v", err)
	}

	origStore, origAdmin, origPolicies := Store, Admin, Policies
	origOrch, origEvents, origLogger := Orchestrator, Events, Logger
	origMode, origActor, origNow := WorkflowMode, ActorID, now
	t.Cleanup(func() {
		Store, Admin, Policies = origStore, origAdmin, origPolicies
		Orchestrator, Events, Logger = origOrch, origEvents, origLogger
		WorkflowMode, ActorID, now = origMode, origActor, origNow
	})

	Store = fs
	Admin = fs
	Policies = core.NewPolicyStore(fs, zap.NewNop())
	Orchestrator = core.NewCommitOrchestrator(fs, 2, zap.NewNop())
	Events = nil
	Logger = zap.NewNop()
	WorkflowMode = models.ModeStandalone
	ActorID = "tester"
	now = func() time.Time { return time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC) }

	return fs
}

// resetResolveFlags clears the resolve command's flag variables.
func resetResolveFlags(t *testing.T) {
	t.Helper()
	clear := func() {
		resolveScope = scopeFlags{}
		resolveCarry = nil
		resolveDrop = nil
		resolveRequest = nil
		resolveFile = ""
		resolveSubmit = false
		resolveDryRun = false
		resolveRetries = 0
	}
	clear()
	t.Cleanup(clear)
}

func planByID(t *testing.T, items []models.WorkItem, id string) models.WorkItem {
	t.Helper()
	for _, it := range items {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("plan %s not found", id)
	return models.WorkItem{}
}

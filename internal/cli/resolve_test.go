package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/storage"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

func TestRunHeadless_CommitsBothLanes(t *testing.T) {
	fs := setupServices(t)
	resetResolveFlags(t)

	decisions := []decisionEntry{
		{ID: "AP-1", Action: "carry"},
		{ID: "AP-2", Action: "carry_over"},
		{ID: "AP-4", Action: "request-drop", Reason: "customer withdrew the audit"},
	}

	var out bytes.Buffer
	wf := newWorkflow(finMarch, models.ModeStandalone)
	if err := runHeadless(context.Background(), &out, wf, decisions); err != nil {
		t.Fatalf("runHeadless: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "2 carried over, 1 dropped, 1 drop request(s)") {
		t.Errorf("summary missing from output:\n%s", out.String())
	}
	if state, reason := wf.State(); state != core.StateClosed || reason != core.CloseCompleted {
		t.Errorf("state = %s/%s, want closed/completed", state, reason)
	}

	april, err := fs.ListPlans(context.Background(), finMarch.Next())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	ap1 := planByID(t, april, "AP-1")
	if ap1.CarryOverState != models.CarryCarriedOnce || ap1.MaxScore != 80 {
		t.Errorf("AP-1 = %s/%g, want carried_once/80", ap1.CarryOverState, ap1.MaxScore)
	}
	ap2 := planByID(t, april, "AP-2")
	if ap2.CarryOverState != models.CarryCarriedTwice || ap2.MaxScore != 50 {
		t.Errorf("AP-2 = %s/%g, want carried_twice/50", ap2.CarryOverState, ap2.MaxScore)
	}

	march, err := fs.ListPlans(context.Background(), finMarch)
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if got := planByID(t, march, "AP-3").Status; got != models.StatusNotAchieved {
		t.Errorf("AP-3 status = %s, want not_achieved", got)
	}
	if got := planByID(t, march, "AP-4").Status; got != models.StatusWaitingApproval {
		t.Errorf("AP-4 status = %s, want waiting_approval", got)
	}

	tickets, err := fs.Tickets()
	if err != nil {
		t.Fatalf("Tickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].WorkItemID != "AP-4" {
		t.Errorf("tickets = %+v, want one ticket for AP-4", tickets)
	}
}

func TestRunHeadless_PlainDropNeedingApprovalIsRejected(t *testing.T) {
	fs := setupServices(t)
	resetResolveFlags(t)

	decisions := []decisionEntry{
		{ID: "AP-1", Action: "drop"},
		{ID: "AP-2", Action: "carry"},
		{ID: "AP-4", Action: "request_drop", Reason: "no budget"},
	}

	var out bytes.Buffer
	wf := newWorkflow(finMarch, models.ModeStandalone)
	err := runHeadless(context.Background(), &out, wf, decisions)
	if err == nil {
		t.Fatal("expected an error for a plain drop of a high-priority plan")
	}
	if !strings.Contains(err.Error(), "--request-drop AP-1=<reason>") {
		t.Errorf("error should point at --request-drop, got: %v", err)
	}
	if state, reason := wf.State(); state != core.StateClosed || reason != core.CloseCancelled {
		t.Errorf("state = %s/%s, want closed/cancelled", state, reason)
	}

	march, _ := fs.ListPlans(context.Background(), finMarch)
	if got := planByID(t, march, "AP-1").Status; got != models.StatusOpen {
		t.Errorf("AP-1 status = %s, want it untouched", got)
	}
}

func TestRunHeadless_ShortReasonIsRejected(t *testing.T) {
	setupServices(t)
	resetResolveFlags(t)

	wf := newWorkflow(finMarch, models.ModeStandalone)
	err := runHeadless(context.Background(), &bytes.Buffer{}, wf, []decisionEntry{
		{ID: "AP-4", Action: "request-drop", Reason: "no"},
	})
	if err == nil {
		t.Fatal("expected a reason that is too short to be rejected")
	}
	if !strings.Contains(err.Error(), "AP-4") {
		t.Errorf("error should name AP-4, got: %v", err)
	}
}

func TestRunHeadless_DryRunDoesNotCommit(t *testing.T) {
	fs := setupServices(t)
	resetResolveFlags(t)
	resolveDryRun = true

	var out bytes.Buffer
	wf := newWorkflow(finMarch, models.ModeStandalone)
	if err := runHeadless(context.Background(), &out, wf, []decisionEntry{{ID: "AP-1", Action: "carry"}}); err != nil {
		t.Fatalf("runHeadless: %v", err)
	}
	if !strings.Contains(out.String(), "not ready: undecided AP-2, AP-4") {
		t.Errorf("dry run should list undecided plans:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "AP-3") {
		t.Errorf("preview should include the seeded drop of AP-3:\n%s", out.String())
	}

	march, _ := fs.ListPlans(context.Background(), finMarch)
	for _, it := range march {
		if it.Status == models.StatusNotAchieved || it.Status == models.StatusWaitingApproval {
			t.Errorf("%s was modified by a dry run", it.ID)
		}
	}
}

func TestRunHeadless_DryRunReady(t *testing.T) {
	setupServices(t)
	resetResolveFlags(t)
	resolveDryRun = true

	var out bytes.Buffer
	wf := newWorkflow(finMarch, models.ModeStandalone)
	err := runHeadless(context.Background(), &out, wf, []decisionEntry{
		{ID: "AP-1", Action: "carry"},
		{ID: "AP-2", Action: "drop"},
		{ID: "AP-4", Action: "carry"},
	})
	if err != nil {
		t.Fatalf("runHeadless: %v", err)
	}
	if !strings.Contains(out.String(), "ready to commit") {
		t.Errorf("expected ready message:\n%s", out.String())
	}
}

func TestRunHeadless_UndecidedFails(t *testing.T) {
	setupServices(t)
	resetResolveFlags(t)

	wf := newWorkflow(finMarch, models.ModeStandalone)
	err := runHeadless(context.Background(), &bytes.Buffer{}, wf, []decisionEntry{{ID: "AP-1", Action: "carry"}})
	if !errors.Is(err, core.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestRunHeadless_SubmitModeLocksPeriod(t *testing.T) {
	fs := setupServices(t)
	resetResolveFlags(t)

	var out bytes.Buffer
	wf := newWorkflow(finMarch, models.ModeSubmit)
	err := runHeadless(context.Background(), &out, wf, []decisionEntry{
		{ID: "AP-1", Action: "carry"},
		{ID: "AP-2", Action: "carry"},
		{ID: "AP-4", Action: "carry"},
	})
	if err != nil {
		t.Fatalf("runHeadless: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "report for FIN/2026-03 submitted") {
		t.Errorf("expected submission message:\n%s", out.String())
	}
	if state, reason := wf.State(); state != core.StateClosed || reason != core.CloseSubmitted {
		t.Errorf("state = %s/%s, want closed/submitted", state, reason)
	}

	late := models.WorkItem{ID: "AP-10", Title: "Late plan", Scope: finMarch, Category: "Low", Status: models.StatusOpen}
	if err := fs.ImportPlans(context.Background(), []models.WorkItem{late}); err != nil {
		t.Fatalf("ImportPlans: %v", err)
	}
	_, err = fs.CommitBatchResolutions(context.Background(), finMarch, "", []models.BatchResolution{
		{WorkItemID: "AP-10", Action: models.ActionDrop},
	}, "tester")
	if !errors.Is(err, storage.ErrScopeLocked) {
		t.Errorf("err = %v, want ErrScopeLocked after submission", err)
	}
}

func TestRunHeadless_EmptyScopeCommitsNothing(t *testing.T) {
	setupServices(t)
	resetResolveFlags(t)

	var out bytes.Buffer
	wf := newWorkflow(models.Scope{Department: "HR", Month: 3, Year: 2026}, models.ModeStandalone)
	if err := runHeadless(context.Background(), &out, wf, []decisionEntry{}); err != nil {
		t.Fatalf("runHeadless: %v", err)
	}
	if !strings.Contains(out.String(), "nothing to resolve") {
		t.Errorf("expected empty preview:\n%s", out.String())
	}
}

func TestCollectDecisions(t *testing.T) {
	resetResolveFlags(t)

	got, err := collectDecisions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("no flags should yield nil decisions, got %+v", got)
	}

	path := filepath.Join(t.TempDir(), "decisions.yaml")
	content := "decisions:\n  - id: AP-2\n    action: drop\n  - id: AP-4\n    action: request-drop\n    reason: vendor contract cancelled\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	resolveFile = path
	resolveCarry = []string{"AP-1"}
	resolveRequest = []string{"AP-7=budget moved = next year"}

	got, err = collectDecisions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d decisions, want 4: %+v", len(got), got)
	}
	if got[1].ID != "AP-4" || got[1].Reason != "vendor contract cancelled" {
		t.Errorf("file entry = %+v", got[1])
	}
	if got[2].ID != "AP-1" || got[2].Action != string(models.ActionCarryOver) {
		t.Errorf("carry entry = %+v", got[2])
	}
	if got[3].ID != "AP-7" || got[3].Reason != "budget moved = next year" {
		t.Errorf("request-drop entry = %+v", got[3])
	}
}

func TestCollectDecisions_EmptyFileIsHeadless(t *testing.T) {
	resetResolveFlags(t)

	path := filepath.Join(t.TempDir(), "decisions.yaml")
	if err := os.WriteFile(path, []byte("decisions: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	resolveFile = path

	got, err := collectDecisions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("empty decisions file should yield an empty non-nil list, got %#v", got)
	}
}

func TestCollectDecisions_RequestDropNeedsReason(t *testing.T) {
	resetResolveFlags(t)
	resolveRequest = []string{"AP-4"}

	_, err := collectDecisions()
	if err == nil || !strings.Contains(err.Error(), "expected ID=reason") {
		t.Errorf("err = %v, want ID=reason format error", err)
	}
}

func TestApplyDecision_UnknownAction(t *testing.T) {
	setupServices(t)

	wf := newWorkflow(finMarch, models.ModeStandalone)
	if err := wf.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	err := applyDecision(wf, decisionEntry{ID: "AP-1", Action: "postpone"})
	if err == nil || !strings.HasPrefix(err.Error(), "AP-1:") {
		t.Errorf("err = %v, want parse error prefixed with the item ID", err)
	}
}

func TestResolveCmd_NotInitialized(t *testing.T) {
	origStore := Store
	defer func() { Store = origStore }()
	Store = nil

	err := resolveCmd.RunE(resolveCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("err = %v, want not initialized", err)
	}
}

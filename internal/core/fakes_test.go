package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// fakeRecord is an in-memory SystemOfRecord that counts every outbound call.
type fakeRecord struct {
	mu sync.Mutex

	schedule    models.CarryOverSchedule
	scheduleErr error
	approval    models.DropApprovalPolicy
	approvalErr error

	items   []models.WorkItem
	listErr error

	batchErr    error
	batchCounts *models.BatchCounts
	// approvalFail maps item IDs to the error their approval call returns.
	approvalFail map[string]error
	finalizeErr  error

	batchCalls    [][]models.BatchResolution
	batchKeys     []string
	approvalCalls []models.ApprovalRequest
	finalizeCalls int
}

func newFakeRecord(items ...models.WorkItem) *fakeRecord {
	return &fakeRecord{
		schedule:     models.CarryOverSchedule{CeilingAfterFirstCarry: 75, CeilingAfterSecondCarry: 40},
		approval:     models.DropApprovalPolicy{models.PriorityHigh: true, models.PriorityUltraHigh: true},
		items:        items,
		approvalFail: make(map[string]error),
	}
}

func (f *fakeRecord) FetchCarryOverPolicy(_ context.Context) (models.CarryOverSchedule, error) {
	if f.scheduleErr != nil {
		return models.CarryOverSchedule{}, f.scheduleErr
	}
	return f.schedule, nil
}

func (f *fakeRecord) FetchDropApprovalPolicy(_ context.Context) (models.DropApprovalPolicy, error) {
	if f.approvalErr != nil {
		return nil, f.approvalErr
	}
	return f.approval, nil
}

func (f *fakeRecord) ListUnresolvedWorkItems(_ context.Context, _ models.Scope) ([]models.WorkItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeRecord) CommitBatchResolutions(_ context.Context, _ models.Scope, batchKey string, decisions []models.BatchResolution, _ string) (models.BatchCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, decisions)
	f.batchKeys = append(f.batchKeys, batchKey)
	if f.batchErr != nil {
		return models.BatchCounts{}, f.batchErr
	}
	if f.batchCounts != nil {
		return *f.batchCounts, nil
	}
	var c models.BatchCounts
	for _, d := range decisions {
		if d.Action == models.ActionCarryOver {
			c.CarriedOver++
		} else {
			c.Dropped++
		}
	}
	return c, nil
}

func (f *fakeRecord) SubmitDropApprovalRequest(_ context.Context, req models.ApprovalRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvalCalls = append(f.approvalCalls, req)
	if err := f.approvalFail[req.WorkItemID]; err != nil {
		return "", err
	}
	return "TKT-" + req.WorkItemID, nil
}

func (f *fakeRecord) FinalizeReportSubmission(_ context.Context, _ models.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	return f.finalizeErr
}

func (f *fakeRecord) totalCalls() (batch, approvals, finalize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batchCalls), len(f.approvalCalls), f.finalizeCalls
}

// recordingEvents captures workflow events.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
	return nil
}

func (r *recordingEvents) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// dataFor returns the data of every event of the given type.
func (r *recordingEvents) dataFor(eventType string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for i, e := range r.events {
		if e == eventType {
			out = append(out, r.data[i])
		}
	}
	return out
}

var testScope = models.Scope{Department: "FIN", Month: 3, Year: 2026}

func item(id string, priority models.PriorityCategory, carry models.CarryOverState) models.WorkItem {
	return models.WorkItem{
		ID:             id,
		Title:          "Plan " + id,
		Owner:          "owner-" + id,
		Scope:          testScope,
		Category:       string(priority),
		Priority:       priority,
		Status:         models.StatusOpen,
		CarryOverState: carry,
		MaxScore:       100,
	}
}

func newTestWorkflow(rec *fakeRecord, mode models.WorkflowMode, events EventLogger) *Workflow {
	return NewWorkflow(WorkflowDeps{
		Policies:     NewPolicyStore(rec, nil),
		Items:        rec,
		Orchestrator: NewCommitOrchestrator(rec, 2, nil),
		Submitter:    rec,
		Events:       events,
	}, WorkflowOptions{Scope: testScope, Mode: mode, ActorID: "actor-1"})
}

var errBoom = fmt.Errorf("boom")

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// FileStore is a system of record kept in a single YAML file. Every
// operation reloads the file under an exclusive lock, applies its change
// to the in-memory copy and writes it back, so a failed validation leaves
// the file untouched.
type FileStore struct {
	basePath string
	logger   *zap.Logger

	// mu serializes callers in this process; the flock serializes processes.
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates a FileStore rooted at basePath. logger may be nil.
func NewFileStore(basePath string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		basePath: basePath,
		logger:   logger,
		now:      time.Now,
	}
}

// Path returns the location of the plan file.
func (s *FileStore) Path() string { return filepath.Join(s.basePath, PlanFileName) }

func (s *FileStore) timestamp() string { return s.now().UTC().Format(time.RFC3339) }

// update runs fn against a freshly loaded registry and saves it when fn
// succeeds and reports a change.
func (s *FileStore) update(fn func(reg *filePlanRegistry) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0o750); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	unlock, err := lockFile(s.Path() + ".lock")
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	reg := NewPlanRegistry(s.basePath).(*filePlanRegistry)
	if err := reg.Load(); err != nil {
		return err
	}
	changed, err := fn(reg)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return reg.Save()
}

// view runs fn against a freshly loaded registry without saving.
func (s *FileStore) view(fn func(reg *filePlanRegistry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := NewPlanRegistry(s.basePath).(*filePlanRegistry)
	if err := reg.Load(); err != nil {
		return err
	}
	return fn(reg)
}

// FetchCarryOverPolicy returns the stored carry-over schedule.
func (s *FileStore) FetchCarryOverPolicy(_ context.Context) (models.CarryOverSchedule, error) {
	var schedule models.CarryOverSchedule
	err := s.view(func(reg *filePlanRegistry) error {
		p := reg.Policies().CarryOver
		if p == nil {
			return fmt.Errorf("carry-over schedule: %w", ErrPolicyNotConfigured)
		}
		schedule = *p
		return nil
	})
	return schedule, err
}

// FetchDropApprovalPolicy returns the stored per-category approval policy.
func (s *FileStore) FetchDropApprovalPolicy(_ context.Context) (models.DropApprovalPolicy, error) {
	var policy models.DropApprovalPolicy
	err := s.view(func(reg *filePlanRegistry) error {
		p := reg.Policies().DropApproval
		if p == nil {
			return fmt.Errorf("drop approval policy: %w", ErrPolicyNotConfigured)
		}
		policy = make(models.DropApprovalPolicy, len(p))
		for k, v := range p {
			policy[k] = v
		}
		return nil
	})
	return policy, err
}

// SavePolicies replaces both stored policies.
func (s *FileStore) SavePolicies(_ context.Context, doc models.PolicyDocument) error {
	return s.update(func(reg *filePlanRegistry) (bool, error) {
		schedule := doc.CarryOver
		reg.SetPolicies(PolicySection{CarryOver: &schedule, DropApproval: explicitApprovalPolicy(doc.DropApproval)})
		return true, nil
	})
}

// ListUnresolvedWorkItems returns the plans in scope that still need a
// disposition. Terminal plans and plans waiting for approval are excluded.
func (s *FileStore) ListUnresolvedWorkItems(_ context.Context, scope models.Scope) ([]models.WorkItem, error) {
	var items []models.WorkItem
	err := s.view(func(reg *filePlanRegistry) error {
		plans, err := reg.FilterPlans(PlanFilter{Scope: &scope})
		if err != nil {
			return err
		}
		for _, p := range plans {
			if p.Status.NeedsResolution() {
				items = append(items, p.WorkItem)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing unresolved plans for %s: %w", scope, err)
	}
	return items, nil
}

// ListPlans returns every plan in scope regardless of status.
func (s *FileStore) ListPlans(_ context.Context, scope models.Scope) ([]models.WorkItem, error) {
	var items []models.WorkItem
	err := s.view(func(reg *filePlanRegistry) error {
		plans, err := reg.FilterPlans(PlanFilter{Scope: &scope})
		if err != nil {
			return err
		}
		for _, p := range plans {
			items = append(items, p.WorkItem)
		}
		return nil
	})
	return items, err
}

// ImportPlans adds new plans. Existing IDs are rejected and nothing is saved.
func (s *FileStore) ImportPlans(_ context.Context, items []models.WorkItem) error {
	return s.update(func(reg *filePlanRegistry) (bool, error) {
		for _, item := range items {
			if err := reg.AddPlan(PlanRecord{WorkItem: item}); err != nil {
				return false, err
			}
		}
		return len(items) > 0, nil
	})
}

// CommitBatchResolutions applies every carry-over and drop or none of them.
// A batch key that was already applied returns the original counts.
func (s *FileStore) CommitBatchResolutions(_ context.Context, scope models.Scope, batchKey string, decisions []models.BatchResolution, actorID string) (models.BatchCounts, error) {
	var counts models.BatchCounts
	err := s.update(func(reg *filePlanRegistry) (bool, error) {
		if prior, ok := reg.data.Batches[batchKey]; ok && batchKey != "" {
			s.logger.Info("batch already applied", zap.String("batch_key", batchKey))
			counts = models.BatchCounts{CarriedOver: prior.CarriedOver, Dropped: prior.Dropped}
			return false, nil
		}
		if _, locked := reg.data.Submissions[scope.Key()]; locked {
			return false, fmt.Errorf("%w: %s", ErrScopeLocked, scope)
		}

		schedule := models.DefaultCarryOverSchedule()
		if p := reg.Policies().CarryOver; p != nil {
			schedule = *p
		}

		updated := make(map[string]PlanRecord, len(decisions))
		for _, d := range decisions {
			rec, err := reg.GetPlan(d.WorkItemID)
			if err != nil {
				return false, err
			}
			if err := checkResolvable(rec.WorkItem, scope); err != nil {
				return false, err
			}
			switch d.Action {
			case models.ActionCarryOver:
				next, ok := rec.CarryOverState.Next()
				if !ok {
					return false, fmt.Errorf("%w: %s was already carried over twice", ErrNotEligible, rec.ID)
				}
				rec.MaxScore = ceilingFor(next, schedule)
				rec.CarryOverState = next
				rec.Scope = scope.Next()
				rec.Status = models.StatusOpen
				rec.Resolution = ResolutionCarriedOver
				counts.CarriedOver++
			case models.ActionDrop:
				rec.Status = models.StatusNotAchieved
				rec.Resolution = ResolutionDropped
				counts.Dropped++
			default:
				return false, fmt.Errorf("%w: %s cannot be resolved with %q in a batch", ErrNotEligible, rec.ID, d.Action)
			}
			rec.UpdatedBy = actorID
			rec.UpdatedAt = s.timestamp()
			updated[rec.ID] = *rec
		}

		for id, rec := range updated {
			reg.data.Plans[id] = rec
		}
		if batchKey != "" {
			reg.data.Batches[batchKey] = AppliedBatch{
				Scope:       scope.Key(),
				CarriedOver: counts.CarriedOver,
				Dropped:     counts.Dropped,
				AppliedBy:   actorID,
				AppliedAt:   s.timestamp(),
			}
		}
		return len(updated) > 0 || batchKey != "", nil
	})
	if err != nil {
		return models.BatchCounts{}, fmt.Errorf("committing batch resolutions for %s: %w", scope, err)
	}
	return counts, nil
}

// SubmitDropApprovalRequest opens a ticket for the plan and parks it in
// waiting_approval. A request key seen before returns the existing ticket.
func (s *FileStore) SubmitDropApprovalRequest(_ context.Context, req models.ApprovalRequest) (string, error) {
	var ticketID string
	err := s.update(func(reg *filePlanRegistry) (bool, error) {
		if req.RequestKey != "" {
			for _, t := range reg.data.Tickets {
				if t.RequestKey == req.RequestKey {
					ticketID = t.ID
					return false, nil
				}
			}
		}
		reason := strings.TrimSpace(req.Reason)
		if utf8.RuneCountInString(reason) < models.MinReasonLength {
			return false, fmt.Errorf("reason must be at least %d characters", models.MinReasonLength)
		}
		rec, err := reg.GetPlan(req.WorkItemID)
		if err != nil {
			return false, err
		}
		if err := checkResolvable(rec.WorkItem, rec.Scope); err != nil {
			return false, err
		}
		if _, locked := reg.data.Submissions[rec.Scope.Key()]; locked {
			return false, fmt.Errorf("%w: %s", ErrScopeLocked, rec.Scope)
		}

		ticketID = newTicketID()
		title := req.Title
		if title == "" {
			title = rec.Title
		}
		reg.data.Tickets[ticketID] = ApprovalTicket{
			ID:         ticketID,
			WorkItemID: rec.ID,
			Title:      title,
			Reason:     reason,
			RequestKey: req.RequestKey,
			Status:     "pending",
			Created:    s.timestamp(),
		}
		rec.Status = models.StatusWaitingApproval
		rec.TicketID = ticketID
		rec.UpdatedAt = s.timestamp()
		reg.data.Plans[rec.ID] = *rec
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("submitting drop request for %s: %w", req.WorkItemID, err)
	}
	return ticketID, nil
}

// FinalizeReportSubmission locks the period. It fails while any plan in
// scope still needs a decision; finalizing twice is a no-op.
func (s *FileStore) FinalizeReportSubmission(_ context.Context, scope models.Scope) error {
	err := s.update(func(reg *filePlanRegistry) (bool, error) {
		if _, done := reg.data.Submissions[scope.Key()]; done {
			return false, nil
		}
		plans, err := reg.FilterPlans(PlanFilter{Scope: &scope})
		if err != nil {
			return false, err
		}
		var pending []string
		for _, p := range plans {
			if p.Status.NeedsResolution() {
				pending = append(pending, p.ID)
			}
		}
		if len(pending) > 0 {
			sort.Strings(pending)
			return false, fmt.Errorf("%w: %s", ErrUnresolvedItems, strings.Join(pending, ", "))
		}
		reg.data.Submissions[scope.Key()] = Submission{SubmittedAt: s.timestamp()}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("finalizing report for %s: %w", scope, err)
	}
	return nil
}

// Tickets returns every approval ticket, sorted by ID.
func (s *FileStore) Tickets() ([]ApprovalTicket, error) {
	var tickets []ApprovalTicket
	err := s.view(func(reg *filePlanRegistry) error {
		for _, t := range reg.data.Tickets {
			tickets = append(tickets, t)
		}
		return nil
	})
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return tickets, err
}

// checkResolvable reports whether item belongs to scope and still needs a decision.
func checkResolvable(item models.WorkItem, scope models.Scope) error {
	if item.Scope != scope {
		return fmt.Errorf("%w: %s belongs to %s, not %s", ErrNotEligible, item.ID, item.Scope, scope)
	}
	if !item.Status.NeedsResolution() {
		return fmt.Errorf("%w: %s is %s", ErrNotEligible, item.ID, item.Status)
	}
	return nil
}

// ceilingFor returns the maximum score an item holds after reaching state.
func ceilingFor(state models.CarryOverState, schedule models.CarryOverSchedule) float64 {
	if state == models.CarryCarriedTwice {
		return schedule.CeilingAfterSecondCarry
	}
	return schedule.CeilingAfterFirstCarry
}

func newTicketID() string {
	return "DRQ-" + strings.ToUpper(uuid.NewString()[:8])
}

// explicitApprovalPolicy lists every category so that a policy requiring no
// approvals is still distinguishable from one that was never stored.
func explicitApprovalPolicy(p models.DropApprovalPolicy) models.DropApprovalPolicy {
	out := make(models.DropApprovalPolicy, len(models.AllPriorityCategories))
	for _, c := range models.AllPriorityCategories {
		out[c] = p.RequiresApproval(c)
	}
	return out
}

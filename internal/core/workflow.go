package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// WorkItemSource lists the items a workflow must resolve.
type WorkItemSource interface {
	ListUnresolvedWorkItems(ctx context.Context, scope models.Scope) ([]models.WorkItem, error)
}

// ReportSubmitter locks a reporting period once every item is resolved.
type ReportSubmitter interface {
	FinalizeReportSubmission(ctx context.Context, scope models.Scope) error
}

// SystemOfRecord is everything the workflow needs from the backing store.
type SystemOfRecord interface {
	PolicySource
	WorkItemSource
	ResolutionCommitter
	ReportSubmitter
}

// WorkflowState is a screen of the resolution workflow.
type WorkflowState string

const (
	StateResolve WorkflowState = "resolve"
	StateConfirm WorkflowState = "confirm"
	StateClosed  WorkflowState = "closed"
)

// CloseReason explains how a workflow reached StateClosed.
type CloseReason string

const (
	CloseNone      CloseReason = ""
	CloseCancelled CloseReason = "cancelled"
	CloseCompleted CloseReason = "completed"
	CloseSubmitted CloseReason = "submitted"
)

// WorkflowOptions configures one workflow instance.
type WorkflowOptions struct {
	Scope   models.Scope
	Mode    models.WorkflowMode
	ActorID string
}

// WorkflowDeps are the collaborators a workflow drives. Events and Logger may be nil.
type WorkflowDeps struct {
	Policies     PolicyStore
	Items        WorkItemSource
	Orchestrator CommitOrchestrator
	Submitter    ReportSubmitter
	Events       EventLogger
	Logger       *zap.Logger
}

// CommitOutcome is handed back to the caller after a commit attempt.
type CommitOutcome struct {
	Result *models.CommitResult
	// Decisions is the decision set that was committed.
	Decisions map[string]models.PendingDecision
	// State is the workflow state after the attempt.
	State WorkflowState
}

// ItemView describes one item as presented on the RESOLVE screen.
type ItemView struct {
	Item             models.WorkItem
	LegalActions     []models.Action
	NextCeiling      float64
	HasNextCeiling   bool
	ApprovalRequired bool
	Decision         *models.PendingDecision
	Committed        bool
}

// Workflow is the RESOLVE -> CONFIRM -> closed state machine. One instance
// serves exactly one scope and owns its decision ledger. Methods are safe to
// call from a UI goroutine while a commit runs on another.
type Workflow struct {
	deps WorkflowDeps
	opts WorkflowOptions

	mu          sync.Mutex
	state       WorkflowState
	closeReason CloseReason
	loading     bool
	opened      bool
	inFlight    bool
	policy      models.PolicyDocument
	items       []models.WorkItem
	byID        map[string]models.WorkItem
	ledger      *DecisionLedger
	journal     *CommitJournal
	// ticketsLogged holds items whose approval.requested event was written.
	ticketsLogged map[string]bool
	lastResult    *models.CommitResult
	lastErr       error
}

// NewWorkflow creates a workflow in StateResolve. Open must be called before
// any decision command.
func NewWorkflow(deps WorkflowDeps, opts WorkflowOptions) *Workflow {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeStandalone
	}
	return &Workflow{
		deps:    deps,
		opts:    opts,
		state:   StateResolve,
		loading: true,
		byID:    make(map[string]models.WorkItem),
		ledger:  NewDecisionLedger(nil),
		journal: NewCommitJournal(),

		ticketsLogged: make(map[string]bool),
	}
}

// Open loads policies, lists the scope's unresolved items, filters out those
// already pending approval and seeds default decisions. Commands issued
// before Open returns fail with ErrPoliciesLoading.
func (w *Workflow) Open(ctx context.Context) error {
	if err := w.opts.Scope.Validate(); err != nil {
		return fmt.Errorf("opening workflow: %w", err)
	}
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return ErrWorkflowClosed
	}
	if w.opened {
		w.mu.Unlock()
		return fmt.Errorf("opening workflow: %w: already open", ErrInvalidTransition)
	}
	w.opened = true
	w.mu.Unlock()

	policy := w.deps.Policies.LoadPolicies(ctx)

	listed, err := w.deps.Items.ListUnresolvedWorkItems(ctx, w.opts.Scope)
	if err != nil {
		w.mu.Lock()
		w.opened = false
		w.mu.Unlock()
		return fmt.Errorf("listing unresolved work items for %s: %w", w.opts.Scope, err)
	}

	items, err := ResolvableItems(listed)
	if err != nil {
		w.mu.Lock()
		w.opened = false
		w.mu.Unlock()
		return fmt.Errorf("opening %s: %w", w.opts.Scope, err)
	}

	seed := SeedDefaultDecisions(items, policy.DropApproval)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateClosed {
		return ErrWorkflowClosed
	}
	w.policy = policy
	w.items = items
	for _, item := range items {
		w.byID[item.ID] = item
	}
	w.ledger = NewDecisionLedger(seed)
	w.loading = false

	w.logEvent("workflow.opened", map[string]any{
		"scope":           w.opts.Scope.Key(),
		"mode":            string(w.opts.Mode),
		"items":           len(items),
		"policy_fallback": policy.Fallback,
	})
	if len(seed) > 0 {
		ids := make([]string, 0, len(seed))
		for id := range seed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		w.logEvent("decision.seeded", map[string]any{
			"scope": w.opts.Scope.Key(),
			"items": ids,
		})
	}
	return nil
}

// State returns the current screen and, when closed, why.
func (w *Workflow) State() (WorkflowState, CloseReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.closeReason
}

// Scope returns the scope this workflow operates on.
func (w *Workflow) Scope() models.Scope { return w.opts.Scope }

// Mode returns the workflow mode.
func (w *Workflow) Mode() models.WorkflowMode { return w.opts.Mode }

// Loading reports whether policies are still being loaded.
func (w *Workflow) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// InFlight reports whether a commit or submission call is running.
func (w *Workflow) InFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Policies returns the policy document loaded by Open.
func (w *Workflow) Policies() models.PolicyDocument {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.policy
}

// Items returns the eligible items in display order.
func (w *Workflow) Items() []models.WorkItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.WorkItem, len(w.items))
	copy(out, w.items)
	return out
}

// LastResult returns the cumulative result of the latest commit attempt.
func (w *Workflow) LastResult() *models.CommitResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult
}

// LastError returns the error of the latest commit or submission attempt.
func (w *Workflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// checkEditable must be called with mu held.
func (w *Workflow) checkEditable(itemID string) (models.WorkItem, error) {
	switch {
	case w.state == StateClosed:
		return models.WorkItem{}, ErrWorkflowClosed
	case w.loading:
		return models.WorkItem{}, ErrPoliciesLoading
	case w.inFlight:
		return models.WorkItem{}, ErrCommitInFlight
	case w.state != StateResolve:
		return models.WorkItem{}, fmt.Errorf("%w: decisions can only change while resolving", ErrInvalidTransition)
	}
	item, ok := w.byID[itemID]
	if !ok {
		return models.WorkItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	return item, nil
}

// SetDecision records action for the item after checking it is legal.
// Selecting RequestDrop leaves the reason empty until QueueDropRequest.
func (w *Workflow) SetDecision(itemID string, action models.Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, err := w.checkEditable(itemID)
	if err != nil {
		return err
	}
	if !IsActionLegal(item, w.policy.DropApproval, action) {
		return fmt.Errorf("%w: %s cannot be %s", ErrActionNotAllowed, itemID, action)
	}
	return w.ledger.SetDecision(itemID, action)
}

// SelectDrop applies the user's "drop" choice. When the item's category
// requires approval, the choice is routed to RequestDrop and needsReason is
// true; otherwise Drop is recorded directly.
func (w *Workflow) SelectDrop(itemID string) (needsReason bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, err := w.checkEditable(itemID)
	if err != nil {
		return false, err
	}
	if IsApprovalRequired(item, w.policy.DropApproval) {
		if err := w.ledger.SetDecision(itemID, models.ActionRequestDrop); err != nil {
			return false, err
		}
		d, _ := w.ledger.Get(itemID)
		return !ValidReason(d.Reason), nil
	}
	return false, w.ledger.SetDecision(itemID, models.ActionDrop)
}

// QueueDropRequest records a justified drop request for the item.
func (w *Workflow) QueueDropRequest(itemID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, err := w.checkEditable(itemID)
	if err != nil {
		return err
	}
	if !IsActionLegal(item, w.policy.DropApproval, models.ActionRequestDrop) {
		return fmt.Errorf("%w: %s does not require drop approval", ErrActionNotAllowed, itemID)
	}
	return w.ledger.QueueDropRequest(itemID, reason)
}

// CancelDecision returns the item to undecided.
func (w *Workflow) CancelDecision(itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.checkEditable(itemID); err != nil {
		return err
	}
	return w.ledger.CancelDecision(itemID)
}

// Decision returns the pending decision for the item, if any.
func (w *Workflow) Decision(itemID string) (models.PendingDecision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger.Get(itemID)
}

// Undecided returns the IDs of items that still block the commit.
func (w *Workflow) Undecided() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return UndecidedItems(w.items, w.ledger.Build())
}

// CanCommit reports whether the commit command is currently enabled.
func (w *Workflow) CanCommit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canCommitLocked() == nil
}

func (w *Workflow) canCommitLocked() error {
	switch {
	case w.state == StateClosed:
		return ErrWorkflowClosed
	case w.loading:
		return ErrPoliciesLoading
	case w.inFlight:
		return ErrCommitInFlight
	case w.state != StateResolve:
		return fmt.Errorf("%w: commit is only available while resolving", ErrInvalidTransition)
	}
	if missing := UndecidedItems(w.items, w.ledger.Build()); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrNotReady, strings.Join(missing, ", "))
	}
	return nil
}

// decisionsLocked returns the ledger contents restricted to items in scope.
func (w *Workflow) decisionsLocked() map[string]models.PendingDecision {
	all := w.ledger.Build()
	out := make(map[string]models.PendingDecision, len(all))
	for id, d := range all {
		if _, ok := w.byID[id]; ok {
			out[id] = d
		}
	}
	return out
}

// Preview describes every item with its legal actions and current decision,
// and returns the partition a commit would execute right now.
func (w *Workflow) Preview() ([]ItemView, Partition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	views := make([]ItemView, 0, len(w.items))
	for _, item := range w.items {
		v := ItemView{
			Item:             item,
			LegalActions:     LegalActions(item, w.policy.DropApproval),
			ApprovalRequired: IsApprovalRequired(item, w.policy.DropApproval),
			Committed:        w.ledger.IsCommitted(item.ID),
		}
		v.NextCeiling, v.HasNextCeiling = NextScoreCeiling(item, w.policy.CarryOver)
		if d, ok := w.ledger.Get(item.ID); ok {
			v.Decision = &d
		}
		views = append(views, v)
	}
	return views, PartitionDecisions(w.decisionsLocked(), w.titlesLocked())
}

func (w *Workflow) titlesLocked() map[string]string {
	titles := make(map[string]string, len(w.items))
	for _, item := range w.items {
		titles[item.ID] = item.Title
	}
	return titles
}

// Commit partitions the ledger and executes both lanes. It refuses to run
// unless every eligible item is decided. Once issued, the calls are not
// cancelled even if ctx is. On success the workflow closes (standalone) or
// moves to StateConfirm (submit mode). On failure the ledger is kept so the
// user can fix and retry; decisions that already took effect are locked.
func (w *Workflow) Commit(ctx context.Context) (*CommitOutcome, error) {
	w.mu.Lock()
	if err := w.canCommitLocked(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	decisions := w.decisionsLocked()
	partition := PartitionDecisions(decisions, w.titlesLocked())
	w.inFlight = true
	w.ledger.Freeze()
	w.mu.Unlock()

	w.deps.Logger.Info("committing decisions",
		zap.String("scope", w.opts.Scope.Key()),
		zap.Int("batch", len(partition.BatchResolutions)),
		zap.Int("approvals", len(partition.ApprovalRequests)))

	result, err := w.deps.Orchestrator.Execute(context.WithoutCancel(ctx), w.opts.Scope, w.opts.ActorID, partition, w.journal)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	w.ledger.Unfreeze()
	for _, id := range w.journal.AppliedItems() {
		w.ledger.MarkCommitted(id)
	}
	w.lastResult = result
	w.lastErr = err

	outcome := &CommitOutcome{Result: result, Decisions: decisions}
	if err != nil {
		w.logCommitFailure(err, result)
		w.logNewTicketsLocked(result)
		outcome.State = w.state
		return outcome, err
	}

	w.logEvent("commit.succeeded", commitEventData(w.opts.Scope, result))
	w.logNewTicketsLocked(result)

	if w.opts.Mode == models.ModeSubmit {
		w.state = StateConfirm
	} else {
		w.closeLocked(CloseCompleted)
	}
	outcome.State = w.state
	return outcome, nil
}

func (w *Workflow) logCommitFailure(err error, result *models.CommitResult) {
	data := commitEventData(w.opts.Scope, result)
	data["error"] = err.Error()
	eventType := "commit.failed"
	var ce *CommitError
	if errors.As(err, &ce) {
		data["status"] = string(ce.Status)
		failed := make([]string, len(ce.FailedApprovals))
		for i, f := range ce.FailedApprovals {
			failed[i] = f.WorkItemID
		}
		data["failed_items"] = failed
		data["batch_failed"] = ce.BatchErr != nil
		if ce.Partial() {
			eventType = "commit.partial"
		}
	}
	w.logEvent(eventType, data)
}

// logNewTicketsLocked writes approval.requested once per created ticket,
// whether the attempt that created it succeeded as a whole or not.
func (w *Workflow) logNewTicketsLocked(result *models.CommitResult) {
	if result == nil {
		return
	}
	for _, r := range result.ApprovalRequestResults {
		if !r.OK() || w.ticketsLogged[r.WorkItemID] {
			continue
		}
		w.ticketsLogged[r.WorkItemID] = true
		w.logEvent("approval.requested", map[string]any{
			"scope":        w.opts.Scope.Key(),
			"work_item_id": r.WorkItemID,
			"ticket_id":    r.TicketID,
		})
	}
}

func commitEventData(scope models.Scope, result *models.CommitResult) map[string]any {
	data := map[string]any{"scope": scope.Key()}
	if result != nil {
		data["carried_over"] = result.CarriedOverCount
		data["dropped"] = result.DroppedCount
		data["tickets"] = result.TicketsCreated()
	}
	return data
}

// ConfirmSubmission finalizes the report. It is only valid in StateConfirm.
// On failure the workflow stays in StateConfirm so that only the submission
// is retried; resolution is never re-run.
func (w *Workflow) ConfirmSubmission(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case w.state == StateClosed:
		w.mu.Unlock()
		return ErrWorkflowClosed
	case w.inFlight:
		w.mu.Unlock()
		return ErrCommitInFlight
	case w.state != StateConfirm:
		w.mu.Unlock()
		return fmt.Errorf("%w: submission requires a successful commit in submit mode", ErrInvalidTransition)
	}
	w.inFlight = true
	w.mu.Unlock()

	err := w.deps.Submitter.FinalizeReportSubmission(context.WithoutCancel(ctx), w.opts.Scope)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	if err != nil {
		serr := &SubmissionError{Scope: w.opts.Scope, Err: err}
		w.lastErr = serr
		w.logEvent("report.submission_failed", map[string]any{
			"scope": w.opts.Scope.Key(),
			"error": err.Error(),
		})
		return serr
	}
	w.lastErr = nil
	w.logEvent("report.submitted", map[string]any{"scope": w.opts.Scope.Key()})
	w.closeLocked(CloseSubmitted)
	return nil
}

// Cancel closes the workflow without side effects. It is refused while a
// commit or submission call is in flight.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateClosed {
		return ErrWorkflowClosed
	}
	if w.inFlight {
		return ErrCommitInFlight
	}
	from := w.state
	w.closeLocked(CloseCancelled)
	w.logEvent("workflow.cancelled", map[string]any{
		"scope": w.opts.Scope.Key(),
		"from":  string(from),
	})
	return nil
}

func (w *Workflow) closeLocked(reason CloseReason) {
	w.state = StateClosed
	w.closeReason = reason
	w.ledger.Discard()
}

// Summary renders a one-line description of the latest commit result.
func (w *Workflow) Summary() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return SummarizeResult(w.lastResult)
}

// SummarizeResult renders a one-line description of a commit result.
func SummarizeResult(r *models.CommitResult) string {
	if r == nil {
		return "nothing committed"
	}
	return fmt.Sprintf("%d carried over, %d dropped, %d drop request(s) submitted for approval",
		r.CarriedOverCount, r.DroppedCount, r.TicketsCreated())
}

// logEvent writes a workflow event tagged with this run's journal ID.
func (w *Workflow) logEvent(eventType string, data map[string]any) {
	if w.deps.Events == nil {
		return
	}
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["workflow_id"] = w.journal.ID
	if err := w.deps.Events.LogEvent(eventType, data); err != nil {
		w.deps.Logger.Warn("writing workflow event", zap.String("type", eventType), zap.Error(err))
	}
}

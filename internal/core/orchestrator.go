package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// ResolutionCommitter is the subset of the system of record that receives
// committed decisions.
type ResolutionCommitter interface {
	// CommitBatchResolutions applies every carry-over and drop atomically.
	CommitBatchResolutions(ctx context.Context, scope models.Scope, batchKey string, decisions []models.BatchResolution, actorID string) (models.BatchCounts, error)
	// SubmitDropApprovalRequest creates one approval ticket and returns its ID.
	SubmitDropApprovalRequest(ctx context.Context, req models.ApprovalRequest) (string, error)
}

// CommitOrchestrator executes a partitioned decision set against the
// system of record.
type CommitOrchestrator interface {
	Execute(ctx context.Context, scope models.Scope, actorID string, p Partition, journal *CommitJournal) (*models.CommitResult, error)
}

type commitOrchestrator struct {
	committer    ResolutionCommitter
	maxApprovals int
	logger       *zap.Logger
}

// NewCommitOrchestrator creates a CommitOrchestrator. maxParallelApprovals
// bounds the number of concurrent approval calls; zero or less means unbounded.
// logger may be nil.
func NewCommitOrchestrator(committer ResolutionCommitter, maxParallelApprovals int, logger *zap.Logger) CommitOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &commitOrchestrator{
		committer:    committer,
		maxApprovals: maxParallelApprovals,
		logger:       logger,
	}
}

// Execute issues the batch call and one call per approval request
// concurrently and waits for all of them. Work recorded in journal by an
// earlier attempt is not re-issued. The returned result is cumulative across
// attempts. A non-nil error is always a *CommitError.
func (o *commitOrchestrator) Execute(ctx context.Context, scope models.Scope, actorID string, p Partition, journal *CommitJournal) (*models.CommitResult, error) {
	if journal == nil {
		journal = NewCommitJournal()
	}

	batch := journal.PendingBatch(p.BatchResolutions)
	approvals := journal.PendingApprovals(p.ApprovalRequests)
	approvalErrs := make([]error, len(approvals))

	var g errgroup.Group
	if o.maxApprovals > 0 {
		// One extra slot so the batch call never waits behind approvals.
		g.SetLimit(o.maxApprovals + 1)
	}

	g.Go(func() error {
		if len(batch) == 0 {
			return nil
		}
		key := journal.BatchKey(batch)
		counts, err := o.committer.CommitBatchResolutions(ctx, scope, key, batch, actorID)
		if err != nil {
			o.logger.Error("batch resolution failed",
				zap.String("scope", scope.Key()),
				zap.Int("entries", len(batch)),
				zap.Error(err))
			return err
		}
		journal.RecordBatch(batch, counts)
		o.logger.Info("batch resolution committed",
			zap.String("scope", scope.Key()),
			zap.Int("carried_over", counts.CarriedOver),
			zap.Int("dropped", counts.Dropped))
		return nil
	})

	for i, req := range approvals {
		g.Go(func() error {
			ticket, err := o.committer.SubmitDropApprovalRequest(ctx, req)
			if err == nil && ticket == "" {
				err = fmt.Errorf("store returned an empty ticket id")
			}
			if err != nil {
				approvalErrs[i] = err
				o.logger.Warn("drop approval request failed",
					zap.String("work_item_id", req.WorkItemID),
					zap.Error(err))
				return nil
			}
			journal.RecordTicket(req.WorkItemID, ticket)
			return nil
		})
	}

	batchErr := g.Wait()

	failedByID := make(map[string]error, len(approvals))
	for i, req := range approvals {
		if approvalErrs[i] != nil {
			failedByID[req.WorkItemID] = approvalErrs[i]
		}
	}

	counts := journal.Counts()
	result := &models.CommitResult{
		CarriedOverCount:       counts.CarriedOver,
		DroppedCount:           counts.Dropped,
		ApprovalRequestResults: make([]models.ApprovalRequestResult, 0, len(p.ApprovalRequests)),
	}
	var failed []models.ApprovalRequestResult
	for _, req := range p.ApprovalRequests {
		r := models.ApprovalRequestResult{WorkItemID: req.WorkItemID}
		if ticket, ok := journal.Ticket(req.WorkItemID); ok {
			r.TicketID = ticket
		} else {
			r.Err = failedByID[req.WorkItemID]
			if r.Err == nil {
				r.Err = fmt.Errorf("approval request for %s was not issued", req.WorkItemID)
			}
			failed = append(failed, r)
		}
		result.ApprovalRequestResults = append(result.ApprovalRequestResults, r)
	}

	if batchErr == nil && len(failed) == 0 {
		return result, nil
	}

	status := CommitNothingApplied
	if !journal.Empty() {
		status = CommitPartiallyApplied
	}
	return result, &CommitError{
		Status:          status,
		BatchErr:        batchErr,
		FailedApprovals: failed,
		Result:          result,
	}
}

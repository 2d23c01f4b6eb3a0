package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS action_plans (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	title VARCHAR(255) NOT NULL,
	owner VARCHAR(128) NOT NULL DEFAULT '',
	department VARCHAR(64) NOT NULL,
	month INT NOT NULL,
	year INT NOT NULL,
	category VARCHAR(128) NOT NULL DEFAULT '',
	priority VARCHAR(16) NOT NULL,
	status VARCHAR(32) NOT NULL,
	carry_over_state VARCHAR(32) NOT NULL,
	max_score DOUBLE NOT NULL DEFAULT 100,
	resolution VARCHAR(32) NULL,
	ticket_id VARCHAR(64) NULL,
	updated_by VARCHAR(128) NULL,
	updated_at DATETIME NULL,
	INDEX idx_action_plans_scope (department, year, month)
)`,
	`CREATE TABLE IF NOT EXISTS carry_over_policy (
	id TINYINT NOT NULL PRIMARY KEY,
	ceiling_after_first_carry DOUBLE NOT NULL,
	ceiling_after_second_carry DOUBLE NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS drop_approval_policy (
	priority VARCHAR(16) NOT NULL PRIMARY KEY,
	requires_approval BOOLEAN NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS resolution_batches (
	batch_key VARCHAR(64) NOT NULL PRIMARY KEY,
	scope_key VARCHAR(96) NOT NULL,
	carried_over INT NOT NULL,
	dropped INT NOT NULL,
	applied_by VARCHAR(128) NOT NULL,
	applied_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS drop_approval_tickets (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	work_item_id VARCHAR(64) NOT NULL,
	title VARCHAR(255) NOT NULL,
	reason TEXT NOT NULL,
	request_key VARCHAR(64) NULL UNIQUE,
	status VARCHAR(32) NOT NULL,
	created_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS report_submissions (
	scope_key VARCHAR(96) NOT NULL PRIMARY KEY,
	submitted_at DATETIME NOT NULL
)`,
}

const (
	planColumns = "id, title, owner, department, month, year, category, priority, status, carry_over_state, max_score"

	queryCarryOverPolicy = "SELECT ceiling_after_first_carry, ceiling_after_second_carry FROM carry_over_policy WHERE id = 1"
	queryDropApproval    = "SELECT priority, requires_approval FROM drop_approval_policy"
	queryPlansInScope    = "SELECT " + planColumns + " FROM action_plans WHERE department = ? AND month = ? AND year = ? ORDER BY id"
	queryAppliedBatch    = "SELECT carried_over, dropped FROM resolution_batches WHERE batch_key = ?"
	queryScopeSubmitted  = "SELECT COUNT(*) FROM report_submissions WHERE scope_key = ?"
	queryTicketByKey     = "SELECT id FROM drop_approval_tickets WHERE request_key = ?"
	queryPlanForUpdate   = "SELECT " + planColumns + " FROM action_plans WHERE id = ? FOR UPDATE"
	queryPendingInScope  = "SELECT id FROM action_plans WHERE department = ? AND month = ? AND year = ? AND status IN ('open', 'in_progress', 'blocked') ORDER BY id"

	execUpsertCarryOver   = "REPLACE INTO carry_over_policy (id, ceiling_after_first_carry, ceiling_after_second_carry) VALUES (1, ?, ?)"
	execClearDropApproval = "DELETE FROM drop_approval_policy"
	execInsertDropRule    = "INSERT INTO drop_approval_policy (priority, requires_approval) VALUES (?, ?)"
	execInsertPlan        = "INSERT INTO action_plans (" + planColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	execCarryOverPlan     = "UPDATE action_plans SET carry_over_state = ?, max_score = ?, department = ?, month = ?, year = ?, status = ?, resolution = ?, updated_by = ?, updated_at = ? WHERE id = ?"
	execDropPlan          = "UPDATE action_plans SET status = ?, resolution = ?, updated_by = ?, updated_at = ? WHERE id = ?"
	execInsertBatch       = "INSERT INTO resolution_batches (batch_key, scope_key, carried_over, dropped, applied_by, applied_at) VALUES (?, ?, ?, ?, ?, ?)"
	execInsertTicket      = "INSERT INTO drop_approval_tickets (id, work_item_id, title, reason, request_key, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
	execParkPlan          = "UPDATE action_plans SET status = ?, ticket_id = ?, updated_at = ? WHERE id = ?"
	execInsertSubmission  = "INSERT INTO report_submissions (scope_key, submitted_at) VALUES (?, ?)"
)

// selectPlansForUpdate locks n plans by ID.
func selectPlansForUpdate(n int) string {
	return "SELECT " + planColumns + " FROM action_plans WHERE id IN (" +
		strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ") FOR UPDATE"
}

// MySQLStore is a system of record backed by a MySQL database.
type MySQLStore struct {
	db         *sql.DB
	logger     *zap.Logger
	newBackoff func() backoff.BackOff
	now        func() time.Time
}

// OpenMySQLStore connects to the database named by dsn and creates the
// schema if needed. logger may be nil.
func OpenMySQLStore(ctx context.Context, dsn string, logger *zap.Logger) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := NewMySQLStore(db, logger)
	if err := s.withRetry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to mysql at %s: %w", cfg.Addr, err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("connected to mysql", zap.String("addr", cfg.Addr), zap.String("database", cfg.DBName))
	return s, nil
}

// NewMySQLStore wraps an existing connection pool. logger may be nil.
func NewMySQLStore(db *sql.DB, logger *zap.Logger) *MySQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MySQLStore{
		db:         db,
		logger:     logger,
		newBackoff: newRetryBackoff,
		now:        time.Now,
	}
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// EnsureSchema creates missing tables.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := s.withRetry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// runInTx executes fn inside a transaction, retrying the whole transaction
// on transient errors. fn must be safe to run more than once.
func (s *MySQLStore) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isRetryableError(err) {
				s.logger.Warn("retrying transaction", zap.Error(err))
			}
			return err
		}
		return tx.Commit()
	})
}

// FetchCarryOverPolicy returns the stored carry-over schedule.
func (s *MySQLStore) FetchCarryOverPolicy(ctx context.Context) (models.CarryOverSchedule, error) {
	var schedule models.CarryOverSchedule
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, queryCarryOverPolicy).
			Scan(&schedule.CeilingAfterFirstCarry, &schedule.CeilingAfterSecondCarry)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return schedule, fmt.Errorf("carry-over schedule: %w", ErrPolicyNotConfigured)
	}
	if err != nil {
		return schedule, fmt.Errorf("fetching carry-over schedule: %w", err)
	}
	return schedule, nil
}

// FetchDropApprovalPolicy returns the stored per-category approval policy.
func (s *MySQLStore) FetchDropApprovalPolicy(ctx context.Context) (models.DropApprovalPolicy, error) {
	var policy models.DropApprovalPolicy
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, queryDropApproval)
		if err != nil {
			return err
		}
		defer rows.Close()
		policy = make(models.DropApprovalPolicy)
		for rows.Next() {
			var category string
			var required bool
			if err := rows.Scan(&category, &required); err != nil {
				return err
			}
			policy[models.PriorityCategory(category)] = required
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fetching drop approval policy: %w", err)
	}
	if len(policy) == 0 {
		return nil, fmt.Errorf("drop approval policy: %w", ErrPolicyNotConfigured)
	}
	return policy, nil
}

// SavePolicies replaces both stored policies.
func (s *MySQLStore) SavePolicies(ctx context.Context, doc models.PolicyDocument) error {
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, execUpsertCarryOver,
			doc.CarryOver.CeilingAfterFirstCarry, doc.CarryOver.CeilingAfterSecondCarry); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, execClearDropApproval); err != nil {
			return err
		}
		for _, c := range models.AllPriorityCategories {
			if _, err := tx.ExecContext(ctx, execInsertDropRule, string(c), doc.DropApproval.RequiresApproval(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving policies: %w", err)
	}
	return nil
}

// ListUnresolvedWorkItems returns the plans in scope that still need a
// disposition. Terminal plans and plans waiting for approval are excluded.
func (s *MySQLStore) ListUnresolvedWorkItems(ctx context.Context, scope models.Scope) ([]models.WorkItem, error) {
	all, err := s.ListPlans(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved plans for %s: %w", scope, err)
	}
	var items []models.WorkItem
	for _, item := range all {
		if item.Status.NeedsResolution() {
			items = append(items, item)
		}
	}
	return items, nil
}

// ListPlans returns every plan in scope regardless of status.
func (s *MySQLStore) ListPlans(ctx context.Context, scope models.Scope) ([]models.WorkItem, error) {
	var items []models.WorkItem
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, queryPlansInScope, scope.Department, scope.Month, scope.Year)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = items[:0]
		for rows.Next() {
			item, err := scanWorkItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (models.WorkItem, error) {
	var item models.WorkItem
	var priority, status, carry string
	if err := row.Scan(&item.ID, &item.Title, &item.Owner,
		&item.Scope.Department, &item.Scope.Month, &item.Scope.Year,
		&item.Category, &priority, &status, &carry, &item.MaxScore); err != nil {
		return item, err
	}
	item.Priority = models.PriorityCategory(priority)
	item.Status = models.LifecycleStatus(status)
	item.CarryOverState = models.CarryOverState(carry)
	return item.Normalize()
}

// ImportPlans inserts new plans in one transaction.
func (s *MySQLStore) ImportPlans(ctx context.Context, items []models.WorkItem) error {
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if item.ID == "" {
				return fmt.Errorf("plan ID must not be empty")
			}
			if err := item.Scope.Validate(); err != nil {
				return fmt.Errorf("plan %s: %w", item.ID, err)
			}
			rec, err := normalizePlan(PlanRecord{WorkItem: item})
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, execInsertPlan,
				rec.ID, rec.Title, rec.Owner,
				rec.Scope.Department, rec.Scope.Month, rec.Scope.Year,
				rec.Category, string(rec.Priority), string(rec.Status),
				string(rec.CarryOverState), rec.MaxScore); err != nil {
				return fmt.Errorf("inserting plan %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("importing plans: %w", err)
	}
	return nil
}

func scopeSubmitted(ctx context.Context, tx *sql.Tx, scope models.Scope) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, queryScopeSubmitted, scope.Key()).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func carryOverScheduleTx(ctx context.Context, tx *sql.Tx) (models.CarryOverSchedule, error) {
	var schedule models.CarryOverSchedule
	err := tx.QueryRowContext(ctx, queryCarryOverPolicy).
		Scan(&schedule.CeilingAfterFirstCarry, &schedule.CeilingAfterSecondCarry)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultCarryOverSchedule(), nil
	}
	return schedule, err
}

// CommitBatchResolutions applies every carry-over and drop in a single
// transaction. A batch key that was already applied returns the original
// counts, so a retry after a lost acknowledgement is harmless.
func (s *MySQLStore) CommitBatchResolutions(ctx context.Context, scope models.Scope, batchKey string, decisions []models.BatchResolution, actorID string) (models.BatchCounts, error) {
	var counts models.BatchCounts
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		counts = models.BatchCounts{}
		if batchKey != "" {
			err := tx.QueryRowContext(ctx, queryAppliedBatch, batchKey).Scan(&counts.CarriedOver, &counts.Dropped)
			if err == nil {
				s.logger.Info("batch already applied", zap.String("batch_key", batchKey))
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		locked, err := scopeSubmitted(ctx, tx, scope)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: %s", ErrScopeLocked, scope)
		}
		if len(decisions) == 0 {
			return nil
		}
		schedule, err := carryOverScheduleTx(ctx, tx)
		if err != nil {
			return err
		}

		plans, err := lockPlans(ctx, tx, decisions)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, d := range decisions {
			item, ok := plans[d.WorkItemID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrPlanNotFound, d.WorkItemID)
			}
			if err := checkResolvable(item, scope); err != nil {
				return err
			}
			switch d.Action {
			case models.ActionCarryOver:
				next, ok := item.CarryOverState.Next()
				if !ok {
					return fmt.Errorf("%w: %s was already carried over twice", ErrNotEligible, item.ID)
				}
				target := scope.Next()
				if _, err := tx.ExecContext(ctx, execCarryOverPlan,
					string(next), ceilingFor(next, schedule),
					target.Department, target.Month, target.Year,
					string(models.StatusOpen), ResolutionCarriedOver, actorID, now, item.ID); err != nil {
					return err
				}
				counts.CarriedOver++
			case models.ActionDrop:
				if _, err := tx.ExecContext(ctx, execDropPlan,
					string(models.StatusNotAchieved), ResolutionDropped, actorID, now, item.ID); err != nil {
					return err
				}
				counts.Dropped++
			default:
				return fmt.Errorf("%w: %s cannot be resolved with %q in a batch", ErrNotEligible, item.ID, d.Action)
			}
		}

		if batchKey != "" {
			if _, err := tx.ExecContext(ctx, execInsertBatch,
				batchKey, scope.Key(), counts.CarriedOver, counts.Dropped, actorID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.BatchCounts{}, fmt.Errorf("committing batch resolutions for %s: %w", scope, err)
	}
	return counts, nil
}

func lockPlans(ctx context.Context, tx *sql.Tx, decisions []models.BatchResolution) (map[string]models.WorkItem, error) {
	ids := make([]string, 0, len(decisions))
	seen := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		if !seen[d.WorkItemID] {
			seen[d.WorkItemID] = true
			ids = append(ids, d.WorkItemID)
		}
	}
	sort.Strings(ids)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := tx.QueryContext(ctx, selectPlansForUpdate(len(ids)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans := make(map[string]models.WorkItem, len(ids))
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		plans[item.ID] = item
	}
	return plans, rows.Err()
}

// SubmitDropApprovalRequest opens a ticket and parks the plan in
// waiting_approval. A request key seen before returns the existing ticket.
func (s *MySQLStore) SubmitDropApprovalRequest(ctx context.Context, req models.ApprovalRequest) (string, error) {
	reason := strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(reason) < models.MinReasonLength {
		return "", fmt.Errorf("submitting drop request for %s: reason must be at least %d characters", req.WorkItemID, models.MinReasonLength)
	}

	var ticketID string
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		if req.RequestKey != "" {
			err := tx.QueryRowContext(ctx, queryTicketByKey, req.RequestKey).Scan(&ticketID)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		item, err := scanWorkItem(tx.QueryRowContext(ctx, queryPlanForUpdate, req.WorkItemID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, req.WorkItemID)
		}
		if err != nil {
			return err
		}
		if err := checkResolvable(item, item.Scope); err != nil {
			return err
		}
		locked, err := scopeSubmitted(ctx, tx, item.Scope)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: %s", ErrScopeLocked, item.Scope)
		}

		ticketID = newTicketID()
		title := req.Title
		if title == "" {
			title = item.Title
		}
		key := sql.NullString{String: req.RequestKey, Valid: req.RequestKey != ""}
		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx, execInsertTicket,
			ticketID, item.ID, title, reason, key, "pending", now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, execParkPlan, string(models.StatusWaitingApproval), ticketID, now, item.ID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("submitting drop request for %s: %w", req.WorkItemID, err)
	}
	return ticketID, nil
}

// FinalizeReportSubmission locks the period. It fails while any plan in
// scope still needs a decision; finalizing twice is a no-op.
func (s *MySQLStore) FinalizeReportSubmission(ctx context.Context, scope models.Scope) error {
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		done, err := scopeSubmitted(ctx, tx, scope)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		rows, err := tx.QueryContext(ctx, queryPendingInScope, scope.Department, scope.Month, scope.Year)
		if err != nil {
			return err
		}
		var pending []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			pending = append(pending, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("%w: %s", ErrUnresolvedItems, strings.Join(pending, ", "))
		}

		_, err = tx.ExecContext(ctx, execInsertSubmission, scope.Key(), s.now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("finalizing report for %s: %w", scope, err)
	}
	return nil
}

package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/observability"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// PlanAdmin is the maintenance surface of the system of record used by the
// plans and policy commands.
type PlanAdmin interface {
	ListPlans(ctx context.Context, scope models.Scope) ([]models.WorkItem, error)
	ImportPlans(ctx context.Context, items []models.WorkItem) error
	SavePolicies(ctx context.Context, doc models.PolicyDocument) error
}

// Resolution service instances, set during app initialization in app.go.
var (
	Store        core.SystemOfRecord
	Admin        PlanAdmin
	Policies     core.PolicyStore
	Orchestrator core.CommitOrchestrator
	Events       core.EventLogger
	Logger       *zap.Logger

	// WorkflowMode and ActorID come from .apconfig.
	WorkflowMode = models.ModeStandalone
	ActorID      string
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)

// newWorkflow builds a workflow over the configured services.
func newWorkflow(scope models.Scope, mode models.WorkflowMode) *core.Workflow {
	return core.NewWorkflow(core.WorkflowDeps{
		Policies:     Policies,
		Items:        Store,
		Orchestrator: Orchestrator,
		Submitter:    Store,
		Events:       Events,
		Logger:       Logger,
	}, core.WorkflowOptions{
		Scope:   scope,
		Mode:    mode,
		ActorID: ActorID,
	})
}

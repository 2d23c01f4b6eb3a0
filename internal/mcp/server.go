// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the resolution workflow's read-only views as tools for AI assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/observability"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// Server wraps the resolution services and exposes them as MCP tools.
// No tool mutates the system of record.
type Server struct {
	server      *gomcp.Server
	policies    core.PolicyStore
	items       core.WorkItemSource
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server. metricsCalc and alertEngine may be nil
// if observability is disabled.
func NewServer(policies core.PolicyStore, items core.WorkItemSource, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		policies:    policies,
		items:       items,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "actionplan", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type scopeInput struct {
	Department string `json:"department" jsonschema:"required,department code, e.g. FIN"`
	Month      int    `json:"month" jsonschema:"required,reporting month 1-12"`
	Year       int    `json:"year" jsonschema:"required,reporting year, e.g. 2026"`
}

func (in scopeInput) scope() models.Scope {
	return models.Scope{Department: in.Department, Month: in.Month, Year: in.Year}
}

type itemOutput struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Owner            string   `json:"owner,omitempty"`
	Priority         string   `json:"priority"`
	Status           string   `json:"status"`
	CarryOverState   string   `json:"carry_over_state"`
	MaxScore         float64  `json:"max_score"`
	LegalActions     []string `json:"legal_actions"`
	ApprovalRequired bool     `json:"approval_required"`
	NextCeiling      *float64 `json:"next_ceiling,omitempty"`
	DefaultAction    string   `json:"default_action,omitempty"`
}

type listUnresolvedOutput struct {
	Scope          string       `json:"scope"`
	Items          []itemOutput `json:"items"`
	Count          int          `json:"count"`
	PolicyFallback bool         `json:"policy_fallback"`
}

type getPoliciesInput struct{}

type policiesOutput struct {
	CeilingAfterFirstCarry  float64  `json:"score_ceiling_after_first_carry"`
	CeilingAfterSecondCarry float64  `json:"score_ceiling_after_second_carry"`
	ApprovalRequiredFor     []string `json:"drop_approval_required_for"`
	Fallback                bool     `json:"fallback"`
}

type decisionInput struct {
	WorkItemID string `json:"work_item_id" jsonschema:"required,the work item identifier"`
	Action     string `json:"action" jsonschema:"required,carry_over, drop or request_drop"`
	Reason     string `json:"reason,omitempty" jsonschema:"justification, required for request_drop"`
}

type previewInput struct {
	Department string          `json:"department" jsonschema:"required,department code, e.g. FIN"`
	Month      int             `json:"month" jsonschema:"required,reporting month 1-12"`
	Year       int             `json:"year" jsonschema:"required,reporting year, e.g. 2026"`
	Decisions  []decisionInput `json:"decisions,omitempty" jsonschema:"proposed decisions; items not listed keep their default"`
}

func (in previewInput) scope() models.Scope {
	return models.Scope{Department: in.Department, Month: in.Month, Year: in.Year}
}

type rejectedDecision struct {
	WorkItemID string `json:"work_item_id"`
	Reason     string `json:"reason"`
}

type previewOutput struct {
	Scope            string             `json:"scope"`
	CarryOver        []string           `json:"carry_over"`
	Drop             []string           `json:"drop"`
	RequestDrop      []string           `json:"request_drop"`
	Undecided        []string           `json:"undecided"`
	Rejected         []rejectedDecision `json:"rejected,omitempty"`
	Ready            bool               `json:"ready"`
	BatchCalls       int                `json:"batch_calls"`
	ApprovalRequests int                `json:"approval_requests"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 30d."`
}

type metricsOutput struct {
	WorkflowsOpened    int            `json:"workflows_opened"`
	WorkflowsCancelled int            `json:"workflows_cancelled"`
	PolicyFallbacks    int            `json:"policy_fallbacks"`
	CommitsByOutcome   map[string]int `json:"commits_by_outcome"`
	ItemsCarriedOver   int            `json:"items_carried_over"`
	ItemsDropped       int            `json:"items_dropped"`
	ApprovalsRequested int            `json:"approvals_requested"`
	ReportsSubmitted   int            `json:"reports_submitted"`
	SubmissionFailures int            `json:"submission_failures"`
	ResolvedByScope    map[string]int `json:"resolved_by_scope"`
	EventCount         int            `json:"event_count"`
	OldestEvent        string         `json:"oldest_event,omitempty"`
	NewestEvent        string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Scope       string `json:"scope,omitempty"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_unresolved",
		Description: "List the action plans of a department and month that still need a carry-over or drop decision, with the actions each one allows.",
	}, s.handleListUnresolved)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_policies",
		Description: "Get the carry-over score ceilings and the priority categories whose drops require approval.",
	}, s.handleGetPolicies)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "preview_resolution",
		Description: "Check a set of proposed decisions without committing anything. Returns how they would be split between the batch and the approval requests, and whether the period would be ready to commit.",
	}, s.handlePreviewResolution)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get resolution metrics from the event log: commits by outcome, items carried over and dropped, approvals requested and report submissions.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (unreconciled partial commits, failed report submissions, repeated commit failures).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

// loadScope fetches policies and the items that need resolution, applying
// the same filtering the workflow does when it opens.
func (s *Server) loadScope(ctx context.Context, scope models.Scope) (models.PolicyDocument, []models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return models.PolicyDocument{}, nil, err
	}
	doc := s.policies.LoadPolicies(ctx)
	listed, err := s.items.ListUnresolvedWorkItems(ctx, scope)
	if err != nil {
		return doc, nil, fmt.Errorf("listing unresolved work items for %s: %w", scope, err)
	}
	items, err := core.ResolvableItems(listed)
	if err != nil {
		return doc, nil, err
	}
	return doc, items, nil
}

func (s *Server) handleListUnresolved(ctx context.Context, _ *gomcp.CallToolRequest, input scopeInput) (*gomcp.CallToolResult, listUnresolvedOutput, error) {
	scope := input.scope()
	doc, items, err := s.loadScope(ctx, scope)
	if err != nil {
		return errorResult(err.Error()), listUnresolvedOutput{}, nil
	}

	seed := core.SeedDefaultDecisions(items, doc.DropApproval)
	out := listUnresolvedOutput{
		Scope:          scope.Key(),
		Items:          make([]itemOutput, len(items)),
		Count:          len(items),
		PolicyFallback: doc.Fallback,
	}
	for i, item := range items {
		out.Items[i] = itemToOutput(item, doc)
		if d, ok := seed[item.ID]; ok {
			out.Items[i].DefaultAction = string(d.Action)
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetPolicies(ctx context.Context, _ *gomcp.CallToolRequest, _ getPoliciesInput) (*gomcp.CallToolResult, policiesOutput, error) {
	doc := s.policies.LoadPolicies(ctx)
	out := policiesOutput{
		CeilingAfterFirstCarry:  doc.CarryOver.CeilingAfterFirstCarry,
		CeilingAfterSecondCarry: doc.CarryOver.CeilingAfterSecondCarry,
		ApprovalRequiredFor:     []string{},
		Fallback:                doc.Fallback,
	}
	for _, c := range models.AllPriorityCategories {
		if doc.DropApproval.RequiresApproval(c) {
			out.ApprovalRequiredFor = append(out.ApprovalRequiredFor, string(c))
		}
	}
	return nil, out, nil
}

func (s *Server) handlePreviewResolution(ctx context.Context, _ *gomcp.CallToolRequest, input previewInput) (*gomcp.CallToolResult, previewOutput, error) {
	scope := input.scope()
	doc, items, err := s.loadScope(ctx, scope)
	if err != nil {
		return errorResult(err.Error()), previewOutput{}, nil
	}

	byID := make(map[string]models.WorkItem, len(items))
	titles := make(map[string]string, len(items))
	for _, item := range items {
		byID[item.ID] = item
		titles[item.ID] = item.Title
	}

	decisions := core.SeedDefaultDecisions(items, doc.DropApproval)
	out := previewOutput{Scope: scope.Key()}
	for _, d := range input.Decisions {
		if reason := rejectDecision(d, byID, doc.DropApproval); reason != "" {
			out.Rejected = append(out.Rejected, rejectedDecision{WorkItemID: d.WorkItemID, Reason: reason})
			continue
		}
		action, _ := models.ParseAction(d.Action)
		pd := models.PendingDecision{WorkItemID: d.WorkItemID, Action: action}
		if action == models.ActionRequestDrop {
			pd.Reason = d.Reason
		}
		decisions[d.WorkItemID] = pd
	}

	p := core.PartitionDecisions(decisions, titles)
	out.CarryOver = []string{}
	out.Drop = []string{}
	out.RequestDrop = []string{}
	for _, b := range p.BatchResolutions {
		if b.Action == models.ActionCarryOver {
			out.CarryOver = append(out.CarryOver, b.WorkItemID)
		} else {
			out.Drop = append(out.Drop, b.WorkItemID)
		}
	}
	for _, r := range p.ApprovalRequests {
		out.RequestDrop = append(out.RequestDrop, r.WorkItemID)
	}
	out.Undecided = core.UndecidedItems(items, decisions)
	if out.Undecided == nil {
		out.Undecided = []string{}
	}
	out.Ready = core.IsReady(items, decisions)
	if len(p.BatchResolutions) > 0 {
		out.BatchCalls = 1
	}
	out.ApprovalRequests = len(p.ApprovalRequests)
	return nil, out, nil
}

// rejectDecision returns why a proposed decision cannot be queued, or "" if it can.
func rejectDecision(d decisionInput, byID map[string]models.WorkItem, policy models.DropApprovalPolicy) string {
	item, ok := byID[d.WorkItemID]
	if !ok {
		return "not an unresolved item of this scope"
	}
	action, err := models.ParseAction(d.Action)
	if err != nil {
		return err.Error()
	}
	if !core.IsActionLegal(item, policy, action) {
		return fmt.Sprintf("%s is not allowed for this item", action)
	}
	if action == models.ActionRequestDrop && !core.ValidReason(d.Reason) {
		return fmt.Sprintf("reason must be at least %d characters", models.MinReasonLength)
	}
	return ""
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "30d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		WorkflowsOpened:    metrics.WorkflowsOpened,
		WorkflowsCancelled: metrics.WorkflowsCancelled,
		PolicyFallbacks:    metrics.PolicyFallbacks,
		CommitsByOutcome:   metrics.CommitsByOutcome,
		ItemsCarriedOver:   metrics.ItemsCarriedOver,
		ItemsDropped:       metrics.ItemsDropped,
		ApprovalsRequested: metrics.ApprovalsRequested,
		ReportsSubmitted:   metrics.ReportsSubmitted,
		SubmissionFailures: metrics.SubmissionFailures,
		ResolvedByScope:    metrics.ResolvedByScope,
		EventCount:         metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Scope:       a.Scope,
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func itemToOutput(item models.WorkItem, doc models.PolicyDocument) itemOutput {
	out := itemOutput{
		ID:               item.ID,
		Title:            item.Title,
		Owner:            item.Owner,
		Priority:         string(item.Priority),
		Status:           string(item.Status),
		CarryOverState:   string(item.CarryOverState),
		MaxScore:         item.MaxScore,
		ApprovalRequired: core.IsApprovalRequired(item, doc.DropApproval),
	}
	for _, a := range core.LegalActions(item, doc.DropApproval) {
		out.LegalActions = append(out.LegalActions, string(a))
	}
	if ceiling, ok := core.NextScoreCeiling(item, doc.CarryOver); ok {
		out.NextCeiling = &ceiling
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		CommitsByOutcome: make(map[string]int),
		ResolvedByScope:  make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}

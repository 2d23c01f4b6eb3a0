package observability

// Event types written by the resolution workflow.
const (
	EventWorkflowOpened         = "workflow.opened"
	EventWorkflowCancelled      = "workflow.cancelled"
	EventDecisionSeeded         = "decision.seeded"
	EventCommitSucceeded        = "commit.succeeded"
	EventCommitPartial          = "commit.partial"
	EventCommitFailed           = "commit.failed"
	EventApprovalRequested      = "approval.requested"
	EventReportSubmitted        = "report.submitted"
	EventReportSubmissionFailed = "report.submission_failed"
)

// Event levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LevelFor returns the level an event of the given type is recorded at.
func LevelFor(eventType string) string {
	switch eventType {
	case EventCommitFailed, EventReportSubmissionFailed:
		return LevelError
	case EventCommitPartial:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// scopeOf returns the scope key an event refers to, if any. Events written
// before the typed field existed carry it in Data.
func scopeOf(event Event) string {
	if event.Scope != "" {
		return event.Scope
	}
	s, _ := event.Data["scope"].(string)
	return s
}

// workflowOf returns the workflow run an event belongs to, if any.
func workflowOf(event Event) string {
	if event.WorkflowID != "" {
		return event.WorkflowID
	}
	s, _ := event.Data["workflow_id"].(string)
	return s
}

// intValue reads a count from event data. Counts written in-process are
// ints; counts read back from JSON are float64.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

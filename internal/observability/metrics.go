package observability

import (
	"fmt"
	"time"
)

// Metrics holds resolution metrics derived from the event log.
type Metrics struct {
	WorkflowsOpened    int `json:"workflows_opened"`
	WorkflowsCancelled int `json:"workflows_cancelled"`
	PolicyFallbacks    int `json:"policy_fallbacks"`

	CommitsSucceeded int `json:"commits_succeeded"`
	CommitsPartial   int `json:"commits_partial"`
	CommitsFailed    int `json:"commits_failed"`

	ItemsCarriedOver   int `json:"items_carried_over"`
	ItemsDropped       int `json:"items_dropped"`
	ApprovalsRequested int `json:"approvals_requested"`

	ReportsSubmitted   int `json:"reports_submitted"`
	SubmissionFailures int `json:"submission_failures"`

	// CommitsByOutcome counts commit events by type.
	CommitsByOutcome map[string]int `json:"commits_by_outcome"`
	// ResolvedByScope counts carried and dropped items per scope.
	ResolvedByScope map[string]int `json:"resolved_by_scope"`

	EventCount  int        `json:"event_count"`
	OldestEvent *time.Time `json:"oldest_event,omitempty"`
	NewestEvent *time.Time `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
//
// Item counts come from the cumulative totals on commit events. Every retry
// within one workflow run reports the running total again, so only the
// increase over that run's previous commit event is added. Events without a
// workflow ID fall back to their scope.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		CommitsByOutcome: make(map[string]int),
		ResolvedByScope:  make(map[string]int),
	}
	m.EventCount = len(events)

	type totals struct{ carried, dropped int }
	lastTotals := make(map[string]totals)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case EventWorkflowOpened:
			m.WorkflowsOpened++
			if fb, ok := event.Data["policy_fallback"].(bool); ok && fb {
				m.PolicyFallbacks++
			}
		case EventWorkflowCancelled:
			m.WorkflowsCancelled++
		case EventCommitSucceeded, EventCommitPartial, EventCommitFailed:
			m.CommitsByOutcome[event.Type]++
			switch event.Type {
			case EventCommitSucceeded:
				m.CommitsSucceeded++
			case EventCommitPartial:
				m.CommitsPartial++
			default:
				m.CommitsFailed++
			}

			scope := scopeOf(event)
			run := workflowOf(event)
			if run == "" {
				run = "scope:" + scope
			}
			cur := totals{
				carried: intValue(event.Data["carried_over"]),
				dropped: intValue(event.Data["dropped"]),
			}
			prev := lastTotals[run]
			if cur.carried >= prev.carried && cur.dropped >= prev.dropped {
				dc, dd := cur.carried-prev.carried, cur.dropped-prev.dropped
				m.ItemsCarriedOver += dc
				m.ItemsDropped += dd
				if scope != "" {
					m.ResolvedByScope[scope] += dc + dd
				}
			} else {
				// Totals went down: an untagged event from a new run.
				m.ItemsCarriedOver += cur.carried
				m.ItemsDropped += cur.dropped
				if scope != "" {
					m.ResolvedByScope[scope] += cur.carried + cur.dropped
				}
			}
			lastTotals[run] = cur
			if event.Type == EventCommitSucceeded {
				// A success ends the run; the next commit starts from zero.
				delete(lastTotals, run)
			}
		case EventApprovalRequested:
			m.ApprovalsRequested++
		case EventReportSubmitted:
			m.ReportsSubmitted++
		case EventReportSubmissionFailed:
			m.SubmissionFailures++
		}
	}

	return m, nil
}

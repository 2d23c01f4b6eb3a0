package observability

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Scope       string        `json:"scope,omitempty"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// Alert conditions.
const (
	ConditionPartialCommit    = "partial_commit_unreconciled"
	ConditionSubmissionFailed = "report_submission_failed"
	ConditionRepeatedFailures = "repeated_commit_failures"
)

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	PartialCommitHours int `yaml:"partial_commit_hours" json:"partial_commit_hours"`
	SubmissionHours    int `yaml:"submission_hours" json:"submission_hours"`
	MaxFailedCommits   int `yaml:"max_failed_commits" json:"max_failed_commits"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		PartialCommitHours: 1,
		SubmissionHours:    24,
		MaxFailedCommits:   3,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// scopeHistory is the per-scope state reconstructed from the event log.
type scopeHistory struct {
	lastCommitType string
	lastCommitAt   time.Time
	failedItems    []string
	// failuresSinceSuccess counts failed and partial commits since the last success.
	failuresSinceSuccess int
	submissionFailedAt   time.Time
	submitted            bool
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	history := make(map[string]*scopeHistory)
	get := func(scope string) *scopeHistory {
		h, ok := history[scope]
		if !ok {
			h = &scopeHistory{}
			history[scope] = h
		}
		return h
	}

	for _, event := range events {
		scope := scopeOf(event)
		if scope == "" {
			continue
		}
		h := get(scope)
		switch event.Type {
		case EventCommitSucceeded:
			h.lastCommitType = event.Type
			h.lastCommitAt = event.Time
			h.failedItems = nil
			h.failuresSinceSuccess = 0
		case EventCommitPartial, EventCommitFailed:
			h.lastCommitType = event.Type
			h.lastCommitAt = event.Time
			h.failedItems = stringList(event.Data["failed_items"])
			h.failuresSinceSuccess++
		case EventReportSubmissionFailed:
			if !h.submitted {
				h.submissionFailedAt = event.Time
			}
		case EventReportSubmitted:
			h.submitted = true
			h.submissionFailedAt = time.Time{}
		}
	}

	scopes := make([]string, 0, len(history))
	for s := range history {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	var alerts []Alert
	for _, scope := range scopes {
		h := history[scope]
		alerts = append(alerts, ae.checkPartialCommit(scope, h, now)...)
		alerts = append(alerts, ae.checkSubmission(scope, h, now)...)
		alerts = append(alerts, ae.checkRepeatedFailures(scope, h, now)...)
	}
	return alerts, nil
}

// checkPartialCommit fires when the latest commit for a scope left some
// effects applied and nothing reconciled it within the threshold.
func (ae *alertEngine) checkPartialCommit(scope string, h *scopeHistory, now time.Time) []Alert {
	threshold := time.Duration(ae.thresholds.PartialCommitHours) * time.Hour
	if h.lastCommitType != EventCommitPartial || now.Sub(h.lastCommitAt) <= threshold {
		return nil
	}
	items := "unknown items"
	if len(h.failedItems) > 0 {
		items = strings.Join(h.failedItems, ", ")
	}
	return []Alert{{
		ID:          fmt.Sprintf("partial-%s", scope),
		Condition:   ConditionPartialCommit,
		Severity:    SeverityHigh,
		Scope:       scope,
		Message:     fmt.Sprintf("%s has a partially applied commit older than %d hours; missing: %s", scope, ae.thresholds.PartialCommitHours, items),
		TriggeredAt: now,
	}}
}

// checkSubmission fires when a report submission failed and was not retried
// successfully within the threshold.
func (ae *alertEngine) checkSubmission(scope string, h *scopeHistory, now time.Time) []Alert {
	threshold := time.Duration(ae.thresholds.SubmissionHours) * time.Hour
	if h.submitted || h.submissionFailedAt.IsZero() || now.Sub(h.submissionFailedAt) <= threshold {
		return nil
	}
	return []Alert{{
		ID:          fmt.Sprintf("submission-%s", scope),
		Condition:   ConditionSubmissionFailed,
		Severity:    SeverityMedium,
		Scope:       scope,
		Message:     fmt.Sprintf("report for %s failed to submit more than %d hours ago and is still not submitted", scope, ae.thresholds.SubmissionHours),
		TriggeredAt: now,
	}}
}

// checkRepeatedFailures fires when a scope has failed to commit more than
// the allowed number of times since its last success.
func (ae *alertEngine) checkRepeatedFailures(scope string, h *scopeHistory, now time.Time) []Alert {
	if h.failuresSinceSuccess <= ae.thresholds.MaxFailedCommits {
		return nil
	}
	return []Alert{{
		ID:          fmt.Sprintf("failures-%s", scope),
		Condition:   ConditionRepeatedFailures,
		Severity:    SeverityLow,
		Scope:       scope,
		Message:     fmt.Sprintf("%s has %d failed commit attempts, exceeding the maximum of %d", scope, h.failuresSinceSuccess, ae.thresholds.MaxFailedCommits),
		TriggeredAt: now,
	}}
}

// stringList reads a []string from event data, which JSON decoding turns into []any.
func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

package observability

import (
	"testing"
	"time"
)

func evaluateAt(t *testing.T, log EventLog, thresholds AlertThresholds, now time.Time) []Alert {
	t.Helper()
	engine := NewAlertEngine(log, thresholds).(*alertEngine)
	engine.now = func() time.Time { return now }
	alerts, err := engine.Evaluate()
	if err != nil {
		t.Fatalf("evaluating alerts: %v", err)
	}
	return alerts
}

func findAlert(alerts []Alert, condition, scope string) *Alert {
	for i := range alerts {
		if alerts[i].Condition == condition && alerts[i].Scope == scope {
			return &alerts[i]
		}
	}
	return nil
}

var alertBase = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestAlertEngine_PartialCommitUnreconciled(t *testing.T) {
	log := newTestLog(t)
	writeEvents(t, log, []Event{
		{Time: alertBase, Type: EventCommitPartial, Data: map[string]any{"scope": "FIN/2026-03", "failed_items": []string{"AP-4"}}},
	})

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(2*time.Hour))
	a := findAlert(alerts, ConditionPartialCommit, "FIN/2026-03")
	if a == nil {
		t.Fatal("expected partial commit alert but none found")
	}
	if a.Severity != SeverityHigh {
		t.Errorf("expected high severity, got %s", a.Severity)
	}
	if a.ID != "partial-FIN/2026-03" {
		t.Errorf("unexpected alert ID %s", a.ID)
	}
	if !contains(a.Message, "AP-4") {
		t.Errorf("expected message to name AP-4, got %s", a.Message)
	}
}

func TestAlertEngine_PartialCommitWithinThreshold(t *testing.T) {
	log := newTestLog(t)
	writeEvents(t, log, []Event{
		{Time: alertBase, Type: EventCommitPartial, Data: map[string]any{"scope": "FIN/2026-03"}},
	})

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(30*time.Minute))
	if a := findAlert(alerts, ConditionPartialCommit, "FIN/2026-03"); a != nil {
		t.Errorf("expected no alert within threshold, got %+v", a)
	}
}

func TestAlertEngine_PartialCommitReconciled(t *testing.T) {
	log := newTestLog(t)
	writeEvents(t, log, []Event{
		{Time: alertBase, Type: EventCommitPartial, Data: map[string]any{"scope": "FIN/2026-03"}},
		{Time: alertBase.Add(10 * time.Minute), Type: EventCommitSucceeded, Data: map[string]any{"scope": "FIN/2026-03"}},
	})

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(48*time.Hour))
	if len(alerts) != 0 {
		t.Errorf("expected no alerts after reconciliation, got %+v", alerts)
	}
}

func TestAlertEngine_SubmissionFailed(t *testing.T) {
	log := newTestLog(t)
	writeEvents(t, log, []Event{
		{Time: alertBase, Type: EventReportSubmissionFailed, Data: map[string]any{"scope": "OPS/2026-03"}},
	})

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(25*time.Hour))
	a := findAlert(alerts, ConditionSubmissionFailed, "OPS/2026-03")
	if a == nil {
		t.Fatal("expected submission alert but none found")
	}
	if a.Severity != SeverityMedium {
		t.Errorf("expected medium severity, got %s", a.Severity)
	}

	alerts = evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(2*time.Hour))
	if a := findAlert(alerts, ConditionSubmissionFailed, "OPS/2026-03"); a != nil {
		t.Errorf("expected no alert within threshold, got %+v", a)
	}
}

func TestAlertEngine_SubmissionRetried(t *testing.T) {
	log := newTestLog(t)
	writeEvents(t, log, []Event{
		{Time: alertBase, Type: EventReportSubmissionFailed, Data: map[string]any{"scope": "OPS/2026-03"}},
		{Time: alertBase.Add(time.Hour), Type: EventReportSubmitted, Data: map[string]any{"scope": "OPS/2026-03"}},
	})

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(72*time.Hour))
	if a := findAlert(alerts, ConditionSubmissionFailed, "OPS/2026-03"); a != nil {
		t.Errorf("expected no alert after successful retry, got %+v", a)
	}
}

func TestAlertEngine_RepeatedFailures(t *testing.T) {
	log := newTestLog(t)
	var events []Event
	for i := 0; i < 4; i++ {
		events = append(events, Event{
			Time: alertBase.Add(time.Duration(i) * time.Minute),
			Type: EventCommitFailed,
			Data: map[string]any{"scope": "FIN/2026-03"},
		})
	}
	writeEvents(t, log, events)

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(10*time.Minute))
	a := findAlert(alerts, ConditionRepeatedFailures, "FIN/2026-03")
	if a == nil {
		t.Fatal("expected repeated failure alert but none found")
	}
	if a.Severity != SeverityLow {
		t.Errorf("expected low severity, got %s", a.Severity)
	}
}

func TestAlertEngine_FailuresResetBySuccess(t *testing.T) {
	log := newTestLog(t)
	var events []Event
	for i := 0; i < 4; i++ {
		events = append(events, Event{
			Time: alertBase.Add(time.Duration(i) * time.Minute),
			Type: EventCommitFailed,
			Data: map[string]any{"scope": "FIN/2026-03"},
		})
	}
	events = append(events, Event{Time: alertBase.Add(5 * time.Minute), Type: EventCommitSucceeded, Data: map[string]any{"scope": "FIN/2026-03"}})
	writeEvents(t, log, events)

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(10*time.Minute))
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}

func TestAlertEngine_IgnoresUnscopedEvents(t *testing.T) {
	log := newTestLog(t)
	writeEvents(t, log, []Event{
		{Time: alertBase, Type: EventCommitPartial},
		{Time: alertBase, Type: EventReportSubmissionFailed},
	})

	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase.Add(72*time.Hour))
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for unscoped events, got %+v", alerts)
	}
}

func TestAlertEngine_EmptyLog(t *testing.T) {
	log := newTestLog(t)
	alerts := evaluateAt(t, log, DefaultAlertThresholds(), alertBase)
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestDefaultAlertThresholds(t *testing.T) {
	th := DefaultAlertThresholds()
	if th.PartialCommitHours != 1 {
		t.Errorf("expected PartialCommitHours 1, got %d", th.PartialCommitHours)
	}
	if th.SubmissionHours != 24 {
		t.Errorf("expected SubmissionHours 24, got %d", th.SubmissionHours)
	}
	if th.MaxFailedCommits != 3 {
		t.Errorf("expected MaxFailedCommits 3, got %d", th.MaxFailedCommits)
	}
}

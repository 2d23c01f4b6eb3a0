package core

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// Reasons shorter than five trimmed characters are rejected and leave the
// ledger exactly as it was.
func TestProperty_QueueDropRequestValidation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewDecisionLedger(nil)
		prevAction := rapid.SampledFrom([]models.Action{"", models.ActionCarryOver, models.ActionDrop}).Draw(t, "prev")
		if prevAction != "" {
			if err := l.SetDecision("A", prevAction); err != nil {
				t.Fatal(err)
			}
		}
		before := l.Build()

		reason := rapid.StringMatching(`[ \t]{0,3}[a-zA-Z ]{0,9}[ \t]{0,3}`).Draw(t, "reason")
		err := l.QueueDropRequest("A", reason)

		trimmed := len([]rune(strings.TrimSpace(reason)))
		if trimmed < models.MinReasonLength {
			if err == nil {
				t.Fatalf("reason %q (trimmed %d) accepted", reason, trimmed)
			}
			after := l.Build()
			if len(after) != len(before) || after["A"] != before["A"] {
				t.Fatalf("ledger changed after rejection: %+v -> %+v", before, after)
			}
			return
		}
		if err != nil {
			t.Fatalf("reason %q (trimmed %d) rejected: %v", reason, trimmed, err)
		}
		d, _ := l.Get("A")
		if d.Action != models.ActionRequestDrop || d.Reason != strings.TrimSpace(reason) {
			t.Fatalf("unexpected decision %+v", d)
		}
	})
}

// Any change away from RequestDrop discards the stored reason.
func TestProperty_ReasonClearedWhenActionChanges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewDecisionLedger(nil)
		if err := l.QueueDropRequest("A", "valid justification"); err != nil {
			t.Fatal(err)
		}
		steps := rapid.SliceOfN(rapid.SampledFrom([]models.Action{
			models.ActionCarryOver, models.ActionDrop, models.ActionRequestDrop,
		}), 1, 6).Draw(t, "steps")

		cleared := false
		for _, a := range steps {
			if a != models.ActionRequestDrop {
				cleared = true
			}
			if err := l.SetDecision("A", a); err != nil {
				t.Fatal(err)
			}
			d, _ := l.Get("A")
			if a != models.ActionRequestDrop && d.Reason != "" {
				t.Fatalf("reason kept after switching to %s", a)
			}
			if a == models.ActionRequestDrop && cleared && d.Reason != "" {
				t.Fatalf("old reason resurrected: %q", d.Reason)
			}
		}
	})
}

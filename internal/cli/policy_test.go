package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

func TestPolicyShow(t *testing.T) {
	setupServices(t)

	var out bytes.Buffer
	policyShowCmd.SetOut(&out)
	defer policyShowCmd.SetOut(nil)

	if err := policyShowCmd.RunE(policyShowCmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"After first carry:", "80", "After second carry:", "50", "UH:", "required"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Warning") {
		t.Errorf("stored policies should not show the fallback warning:\n%s", got)
	}
}

func TestPolicySet(t *testing.T) {
	fs := setupServices(t)

	for flag, value := range map[string]string{
		"first-ceiling":    "70",
		"second-ceiling":   "40",
		"require-approval": "UH",
	} {
		if err := policySetCmd.Flags().Set(flag, value); err != nil {
			t.Fatalf("setting --%s: %v", flag, err)
		}
	}

	var out bytes.Buffer
	policySetCmd.SetOut(&out)
	defer policySetCmd.SetOut(nil)

	if err := policySetCmd.RunE(policySetCmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Policies saved.") {
		t.Errorf("unexpected output: %q", out.String())
	}

	schedule, err := fs.FetchCarryOverPolicy(context.Background())
	if err != nil {
		t.Fatalf("FetchCarryOverPolicy: %v", err)
	}
	if schedule.CeilingAfterFirstCarry != 70 || schedule.CeilingAfterSecondCarry != 40 {
		t.Errorf("schedule = %+v, want 70/40", schedule)
	}
	approval, err := fs.FetchDropApprovalPolicy(context.Background())
	if err != nil {
		t.Fatalf("FetchDropApprovalPolicy: %v", err)
	}
	if !approval.RequiresApproval(models.PriorityUltraHigh) || approval.RequiresApproval(models.PriorityHigh) {
		t.Errorf("approval policy = %v, want only UH", approval)
	}
}

func TestParseApprovalCategories(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []models.PriorityCategory
		wantErr bool
	}{
		{"high pair", []string{"UH", "H"}, []models.PriorityCategory{models.PriorityUltraHigh, models.PriorityHigh}, false},
		{"long names", []string{"ultra-high", "medium"}, []models.PriorityCategory{models.PriorityUltraHigh, models.PriorityMedium}, false},
		{"none", []string{"none"}, nil, false},
		{"unspecified", []string{"UNSPECIFIED"}, []models.PriorityCategory{models.PriorityUnspecified}, false},
		{"unknown", []string{"urgent"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseApprovalCategories(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for _, c := range tt.want {
				if !got.RequiresApproval(c) {
					t.Errorf("%s should require approval", c)
				}
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.CarryOverSchedule
		wantErr  bool
	}{
		{"defaults", models.DefaultCarryOverSchedule(), false},
		{"equal ceilings", models.CarryOverSchedule{CeilingAfterFirstCarry: 60, CeilingAfterSecondCarry: 60}, false},
		{"rising ceilings", models.CarryOverSchedule{CeilingAfterFirstCarry: 50, CeilingAfterSecondCarry: 80}, true},
		{"above 100", models.CarryOverSchedule{CeilingAfterFirstCarry: 120, CeilingAfterSecondCarry: 50}, true},
		{"negative", models.CarryOverSchedule{CeilingAfterFirstCarry: 80, CeilingAfterSecondCarry: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSchedule(%+v) err = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

package models

import (
	"fmt"
	"strings"
	"unicode"
)

// Scope identifies the department and reporting period a workflow operates on.
type Scope struct {
	Department string `yaml:"department" json:"department"`
	Month      int    `yaml:"month" json:"month"`
	Year       int    `yaml:"year" json:"year"`
}

// Validate checks that the scope names a department and a real month.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.Department) == "" {
		return fmt.Errorf("scope: department must not be empty")
	}
	if s.Month < 1 || s.Month > 12 {
		return fmt.Errorf("scope: month %d out of range 1-12", s.Month)
	}
	if s.Year < 2000 {
		return fmt.Errorf("scope: year %d out of range", s.Year)
	}
	return nil
}

// Key returns a stable string form of the scope, e.g. "FIN/2026-03".
func (s Scope) Key() string {
	return fmt.Sprintf("%s/%04d-%02d", s.Department, s.Year, s.Month)
}

// Next returns the scope for the following month of the same department.
func (s Scope) Next() Scope {
	if s.Month >= 12 {
		return Scope{Department: s.Department, Month: 1, Year: s.Year + 1}
	}
	return Scope{Department: s.Department, Month: s.Month + 1, Year: s.Year}
}

func (s Scope) String() string { return s.Key() }

// PriorityCategory is the normalized priority bucket of a work item.
type PriorityCategory string

const (
	PriorityUltraHigh   PriorityCategory = "UH"
	PriorityHigh        PriorityCategory = "H"
	PriorityMedium      PriorityCategory = "M"
	PriorityLow         PriorityCategory = "L"
	PriorityUnspecified PriorityCategory = "UNSPECIFIED"
)

// AllPriorityCategories lists every category in descending urgency.
var AllPriorityCategories = []PriorityCategory{
	PriorityUltraHigh, PriorityHigh, PriorityMedium, PriorityLow, PriorityUnspecified,
}

var priorityTokens = map[string]PriorityCategory{
	"UH":         PriorityUltraHigh,
	"ULTRA":      PriorityUltraHigh,
	"ULTRAHIGH":  PriorityUltraHigh,
	"ULTRA_HIGH": PriorityUltraHigh,
	"ULTRA-HIGH": PriorityUltraHigh,
	"H":          PriorityHigh,
	"HIGH":       PriorityHigh,
	"M":          PriorityMedium,
	"MED":        PriorityMedium,
	"MEDIUM":     PriorityMedium,
	"L":          PriorityLow,
	"LOW":        PriorityLow,
}

// ParsePriorityCategory derives a category from a free-text category field.
// Only the leading token, up to the first whitespace or parenthesis, is
// considered. Unrecognized values map to PriorityUnspecified.
func ParsePriorityCategory(text string) PriorityCategory {
	text = strings.TrimSpace(text)
	end := strings.IndexFunc(text, func(r rune) bool {
		return r == '(' || unicode.IsSpace(r)
	})
	if end >= 0 {
		text = text[:end]
	}
	if c, ok := priorityTokens[strings.ToUpper(text)]; ok {
		return c
	}
	return PriorityUnspecified
}

// LifecycleStatus is the current state of a work item in the system of record.
type LifecycleStatus string

const (
	StatusOpen            LifecycleStatus = "open"
	StatusInProgress      LifecycleStatus = "in_progress"
	StatusBlocked         LifecycleStatus = "blocked"
	StatusWaitingApproval LifecycleStatus = "waiting_approval"
	StatusAchieved        LifecycleStatus = "achieved"
	StatusNotAchieved     LifecycleStatus = "not_achieved"
)

var lifecycleStatuses = map[string]LifecycleStatus{
	"":                 StatusOpen,
	"open":             StatusOpen,
	"in_progress":      StatusInProgress,
	"blocked":          StatusBlocked,
	"waiting_approval": StatusWaitingApproval,
	"achieved":         StatusAchieved,
	"not_achieved":     StatusNotAchieved,
}

// ParseLifecycleStatus maps a status label onto the closed set. Case, spaces
// and hyphens are ignored, so "In Progress" and "not-achieved" are accepted.
// An empty label means open.
func ParseLifecycleStatus(s string) (LifecycleStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if st, ok := lifecycleStatuses[norm]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown lifecycle status %q", s)
}

// IsTerminal reports whether the status is a final disposition.
func (s LifecycleStatus) IsTerminal() bool {
	return s == StatusAchieved || s == StatusNotAchieved
}

// NeedsResolution reports whether an item in this status must be resolved
// before the period can close. Items pending approval are excluded.
func (s LifecycleStatus) NeedsResolution() bool {
	return !s.IsTerminal() && s != StatusWaitingApproval
}

// CarryOverState tracks how many times an item has been deferred.
// The ladder only advances: Normal -> CarriedOnce -> CarriedTwice.
type CarryOverState string

const (
	CarryNormal       CarryOverState = "normal"
	CarryCarriedOnce  CarryOverState = "carried_once"
	CarryCarriedTwice CarryOverState = "carried_twice"
)

// Next returns the state reached by carrying the item over once more.
// ok is false when the state is terminal.
func (c CarryOverState) Next() (next CarryOverState, ok bool) {
	switch c {
	case CarryNormal:
		return CarryCarriedOnce, true
	case CarryCarriedOnce:
		return CarryCarriedTwice, true
	default:
		return CarryCarriedTwice, false
	}
}

// IsTerminal reports whether no further carry-over is possible.
func (c CarryOverState) IsTerminal() bool {
	_, ok := c.Next()
	return !ok
}

// ParseCarryOverState accepts the canonical names as well as the spelled-out
// labels used by the reporting screens ("Carried Over", "Carried Over Twice").
func ParseCarryOverState(s string) (CarryOverState, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "", "normal":
		return CarryNormal, nil
	case "carried_once", "carried_over", "once":
		return CarryCarriedOnce, nil
	case "carried_twice", "carried_over_twice", "twice":
		return CarryCarriedTwice, nil
	}
	return "", fmt.Errorf("unknown carry-over state %q", s)
}

// WorkItem is a read-only snapshot of an action plan requiring resolution.
type WorkItem struct {
	ID             string           `yaml:"id" json:"id"`
	Title          string           `yaml:"title" json:"title"`
	Owner          string           `yaml:"owner" json:"owner"`
	Scope          Scope            `yaml:"scope" json:"scope"`
	Category       string           `yaml:"category" json:"category"`
	Priority       PriorityCategory `yaml:"priority" json:"priority"`
	Status         LifecycleStatus  `yaml:"status" json:"status"`
	CarryOverState CarryOverState   `yaml:"carry_over_state" json:"carry_over_state"`
	MaxScore       float64          `yaml:"max_score" json:"max_score"`
}

// Normalize returns the item with every enum field mapped onto its closed
// set. An empty priority is derived from Category; any other priority label
// goes through ParsePriorityCategory. Unknown status or carry-over labels are
// errors. A zero MaxScore becomes 100.
func (w WorkItem) Normalize() (WorkItem, error) {
	if strings.TrimSpace(string(w.Priority)) == "" {
		w.Priority = ParsePriorityCategory(w.Category)
	} else {
		w.Priority = ParsePriorityCategory(string(w.Priority))
	}

	status, err := ParseLifecycleStatus(string(w.Status))
	if err != nil {
		return w, fmt.Errorf("work item %s: %w", w.ID, err)
	}
	w.Status = status

	carry, err := ParseCarryOverState(string(w.CarryOverState))
	if err != nil {
		return w, fmt.Errorf("work item %s: %w", w.ID, err)
	}
	w.CarryOverState = carry

	if w.MaxScore == 0 {
		w.MaxScore = 100
	}
	return w, nil
}

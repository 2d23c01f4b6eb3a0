package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
	"gopkg.in/yaml.v3"
)

// PlanFileName is the name of the YAML system of record inside the base directory.
const PlanFileName = "action_plans.yaml"

// Resolution values recorded on a plan once the batch lane settles it.
const (
	ResolutionCarriedOver = "carried_over"
	ResolutionDropped     = "dropped"
)

// PlanRecord is one action plan as persisted in action_plans.yaml.
type PlanRecord struct {
	models.WorkItem `yaml:",inline"`
	Resolution      string `yaml:"resolution,omitempty"`
	TicketID        string `yaml:"ticket_id,omitempty"`
	UpdatedBy       string `yaml:"updated_by,omitempty"`
	UpdatedAt       string `yaml:"updated_at,omitempty"`
}

// ApprovalTicket is a drop request awaiting a decision by an approver.
type ApprovalTicket struct {
	ID         string `yaml:"id"`
	WorkItemID string `yaml:"work_item_id"`
	Title      string `yaml:"title"`
	Reason     string `yaml:"reason"`
	RequestKey string `yaml:"request_key,omitempty"`
	Status     string `yaml:"status"`
	Created    string `yaml:"created"`
}

// AppliedBatch remembers a batch key so a resent batch is not applied twice.
type AppliedBatch struct {
	Scope       string `yaml:"scope"`
	CarriedOver int    `yaml:"carried_over"`
	Dropped     int    `yaml:"dropped"`
	AppliedBy   string `yaml:"applied_by"`
	AppliedAt   string `yaml:"applied_at"`
}

// Submission records that a period's report was finalized.
type Submission struct {
	SubmittedAt string `yaml:"submitted_at"`
}

// PolicySection holds the stored resolution policies. A nil field means the
// policy has not been configured.
type PolicySection struct {
	CarryOver    *models.CarryOverSchedule `yaml:"carry_over,omitempty"`
	DropApproval models.DropApprovalPolicy `yaml:"drop_approval,omitempty"`
}

// PlanFile is the top-level structure of action_plans.yaml.
type PlanFile struct {
	Version     string                    `yaml:"version"`
	Policies    PolicySection             `yaml:"policies"`
	Plans       map[string]PlanRecord     `yaml:"plans"`
	Tickets     map[string]ApprovalTicket `yaml:"tickets,omitempty"`
	Batches     map[string]AppliedBatch   `yaml:"batches,omitempty"`
	Submissions map[string]Submission     `yaml:"submissions,omitempty"`
}

// PlanFilter specifies criteria for filtering plans. All specified fields
// use AND logic.
type PlanFilter struct {
	Scope    *models.Scope
	Status   []models.LifecycleStatus
	Priority []models.PriorityCategory
	Owner    string
}

// PlanRegistry manages the in-memory copy of action_plans.yaml.
type PlanRegistry interface {
	AddPlan(rec PlanRecord) error
	GetPlan(id string) (*PlanRecord, error)
	GetAllPlans() ([]PlanRecord, error)
	FilterPlans(filter PlanFilter) ([]PlanRecord, error)
	Policies() PolicySection
	SetPolicies(p PolicySection)
	Load() error
	Save() error
}

type filePlanRegistry struct {
	basePath string
	data     PlanFile
}

// NewPlanRegistry creates a PlanRegistry backed by action_plans.yaml in the
// given base directory.
func NewPlanRegistry(basePath string) PlanRegistry {
	return &filePlanRegistry{
		basePath: basePath,
		data:     emptyPlanFile(),
	}
}

func emptyPlanFile() PlanFile {
	return PlanFile{
		Version:     "1.0",
		Plans:       make(map[string]PlanRecord),
		Tickets:     make(map[string]ApprovalTicket),
		Batches:     make(map[string]AppliedBatch),
		Submissions: make(map[string]Submission),
	}
}

func (r *filePlanRegistry) filePath() string {
	return filepath.Join(r.basePath, PlanFileName)
}

func (r *filePlanRegistry) AddPlan(rec PlanRecord) error {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return fmt.Errorf("adding plan: ID must not be empty")
	}
	if err := rec.Scope.Validate(); err != nil {
		return fmt.Errorf("adding plan %s: %w", rec.ID, err)
	}
	if _, exists := r.data.Plans[rec.ID]; exists {
		return fmt.Errorf("adding plan: plan %s already exists", rec.ID)
	}
	rec, err := normalizePlan(rec)
	if err != nil {
		return fmt.Errorf("adding plan: %w", err)
	}
	r.data.Plans[rec.ID] = rec
	return nil
}

// normalizePlan maps hand-written or imported labels onto the closed enums
// and fills fields that older files or imports may omit.
func normalizePlan(rec PlanRecord) (PlanRecord, error) {
	item, err := rec.WorkItem.Normalize()
	if err != nil {
		return rec, err
	}
	rec.WorkItem = item
	return rec, nil
}

func (r *filePlanRegistry) GetPlan(id string) (*PlanRecord, error) {
	rec, exists := r.data.Plans[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return &rec, nil
}

func (r *filePlanRegistry) GetAllPlans() ([]PlanRecord, error) {
	plans := make([]PlanRecord, 0, len(r.data.Plans))
	for _, rec := range r.data.Plans {
		plans = append(plans, rec)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

func (r *filePlanRegistry) FilterPlans(filter PlanFilter) ([]PlanRecord, error) {
	all, err := r.GetAllPlans()
	if err != nil {
		return nil, err
	}

	var result []PlanRecord
	for _, rec := range all {
		if matchesPlanFilter(rec, filter) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func matchesPlanFilter(rec PlanRecord, filter PlanFilter) bool {
	if filter.Scope != nil && rec.Scope != *filter.Scope {
		return false
	}
	if len(filter.Status) > 0 && !containsValue(filter.Status, rec.Status) {
		return false
	}
	if len(filter.Priority) > 0 && !containsValue(filter.Priority, rec.Priority) {
		return false
	}
	if filter.Owner != "" && rec.Owner != filter.Owner {
		return false
	}
	return true
}

func containsValue[T comparable](haystack []T, needle T) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func (r *filePlanRegistry) Policies() PolicySection { return r.data.Policies }

func (r *filePlanRegistry) SetPolicies(p PolicySection) { r.data.Policies = p }

func (r *filePlanRegistry) Load() error {
	data, err := os.ReadFile(r.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			r.data = emptyPlanFile()
			return nil
		}
		return fmt.Errorf("loading plans: %w", err)
	}

	var pf PlanFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("loading plans: parsing YAML: %w", err)
	}
	if pf.Plans == nil {
		pf.Plans = make(map[string]PlanRecord)
	}
	if pf.Tickets == nil {
		pf.Tickets = make(map[string]ApprovalTicket)
	}
	if pf.Batches == nil {
		pf.Batches = make(map[string]AppliedBatch)
	}
	if pf.Submissions == nil {
		pf.Submissions = make(map[string]Submission)
	}
	for id, rec := range pf.Plans {
		rec.ID = id
		norm, err := normalizePlan(rec)
		if err != nil {
			return fmt.Errorf("loading plans: %w", err)
		}
		pf.Plans[id] = norm
	}
	r.data = pf
	return nil
}

func (r *filePlanRegistry) Save() error {
	if err := os.MkdirAll(r.basePath, 0o750); err != nil {
		return fmt.Errorf("saving plans: creating directory: %w", err)
	}
	data, err := yaml.Marshal(&r.data)
	if err != nil {
		return fmt.Errorf("saving plans: marshaling YAML: %w", err)
	}
	tmp := r.filePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("saving plans: writing file: %w", err)
	}
	if err := os.Rename(tmp, r.filePath()); err != nil {
		return fmt.Errorf("saving plans: replacing file: %w", err)
	}
	return nil
}

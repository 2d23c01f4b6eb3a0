package models

// Default score ceilings applied when the carry-over schedule cannot be fetched.
const (
	DefaultCeilingAfterFirstCarry  = 80
	DefaultCeilingAfterSecondCarry = 50
)

// CarryOverSchedule holds the maximum achievable score after each carry-over.
type CarryOverSchedule struct {
	CeilingAfterFirstCarry  float64 `yaml:"score_ceiling_after_first_carry" json:"score_ceiling_after_first_carry"`
	CeilingAfterSecondCarry float64 `yaml:"score_ceiling_after_second_carry" json:"score_ceiling_after_second_carry"`
}

// DefaultCarryOverSchedule returns the fallback schedule (80, 50).
func DefaultCarryOverSchedule() CarryOverSchedule {
	return CarryOverSchedule{
		CeilingAfterFirstCarry:  DefaultCeilingAfterFirstCarry,
		CeilingAfterSecondCarry: DefaultCeilingAfterSecondCarry,
	}
}

// DropApprovalPolicy maps a priority category to whether dropping an item of
// that category requires a justification and an approval ticket.
type DropApprovalPolicy map[PriorityCategory]bool

// DefaultDropApprovalPolicy requires no approval for any category.
func DefaultDropApprovalPolicy() DropApprovalPolicy {
	return DropApprovalPolicy{}
}

// RequiresApproval reports whether dropping an item in category c must be
// escalated. Unknown categories never require approval.
func (p DropApprovalPolicy) RequiresApproval(c PriorityCategory) bool {
	if p == nil {
		return false
	}
	return p[c]
}

// PolicyDocument bundles the two policies the resolution workflow consults.
type PolicyDocument struct {
	CarryOver    CarryOverSchedule  `yaml:"carry_over" json:"carry_over"`
	DropApproval DropApprovalPolicy `yaml:"drop_approval" json:"drop_approval"`
	// Fallback is true when at least one policy could not be fetched and
	// defaults were substituted.
	Fallback bool `yaml:"-" json:"fallback"`
}

// DefaultPolicyDocument returns the document used when nothing can be fetched.
func DefaultPolicyDocument() PolicyDocument {
	return PolicyDocument{
		CarryOver:    DefaultCarryOverSchedule(),
		DropApproval: DefaultDropApprovalPolicy(),
		Fallback:     true,
	}
}

package storage

import "errors"

var (
	// ErrPlanNotFound is returned when an operation names an unknown action plan.
	ErrPlanNotFound = errors.New("action plan not found")
	// ErrScopeLocked is returned when writing to a period whose report was submitted.
	ErrScopeLocked = errors.New("reporting period is locked")
	// ErrNotEligible is returned when an item cannot take the requested resolution.
	ErrNotEligible = errors.New("action plan is not eligible for this resolution")
	// ErrUnresolvedItems is returned by finalize when items still need a decision.
	ErrUnresolvedItems = errors.New("reporting period has unresolved action plans")
	// ErrPolicyNotConfigured is returned when a policy has never been stored.
	ErrPolicyNotConfigured = errors.New("policy not configured")
)

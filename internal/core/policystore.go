package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// PolicySource is the subset of the system of record that serves policies.
type PolicySource interface {
	FetchCarryOverPolicy(ctx context.Context) (models.CarryOverSchedule, error)
	FetchDropApprovalPolicy(ctx context.Context) (models.DropApprovalPolicy, error)
}

// PolicyStore loads the policy document for a workflow session.
type PolicyStore interface {
	LoadPolicies(ctx context.Context) models.PolicyDocument
}

type policyStore struct {
	source PolicySource
	logger *zap.Logger
}

// NewPolicyStore creates a PolicyStore backed by source. logger may be nil.
func NewPolicyStore(source PolicySource, logger *zap.Logger) PolicyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &policyStore{source: source, logger: logger}
}

// LoadPolicies fetches both policies. It never fails: each policy that
// cannot be fetched is replaced by its default, and Fallback is set.
func (ps *policyStore) LoadPolicies(ctx context.Context) models.PolicyDocument {
	doc := models.PolicyDocument{
		CarryOver:    models.DefaultCarryOverSchedule(),
		DropApproval: models.DefaultDropApprovalPolicy(),
	}
	if ps.source == nil {
		doc.Fallback = true
		return doc
	}

	schedule, err := ps.source.FetchCarryOverPolicy(ctx)
	if err != nil {
		ps.logger.Warn("carry-over policy unavailable, using defaults", zap.Error(err))
		doc.Fallback = true
	} else {
		doc.CarryOver = schedule
	}

	approval, err := ps.source.FetchDropApprovalPolicy(ctx)
	if err != nil {
		ps.logger.Warn("drop approval policy unavailable, using defaults", zap.Error(err))
		doc.Fallback = true
	} else if approval != nil {
		doc.DropApproval = approval
	}

	return doc
}

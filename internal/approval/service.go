package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/audit"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/repository"
)

// Service persists approval transitions of pricing rules
type Service struct {
	rules  repository.RuleRepository
	audit  *audit.Manager
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new approval service. auditor may be nil.
func NewService(rules repository.RuleRepository, auditor *audit.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rules:  rules,
		audit:  auditor,
		logger: logger,
		now:    time.Now,
	}
}

// Submit moves a DRAFT or REJECTED rule to PENDING_APPROVAL
func (s *Service) Submit(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error) {
	return s.apply(ctx, ruleID, ActionSubmit, actor, comment)
}

// Approve activates a pending rule
func (s *Service) Approve(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error) {
	return s.apply(ctx, ruleID, ActionApprove, actor, comment)
}

// Reject deactivates a pending rule
func (s *Service) Reject(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error) {
	return s.apply(ctx, ruleID, ActionReject, actor, comment)
}

// Supersede retires a DRAFT or APPROVED rule for good
func (s *Service) Supersede(ctx context.Context, ruleID, actor string) (domain.PricingRule, error) {
	return s.apply(ctx, ruleID, ActionSupersede, actor, "")
}

func (s *Service) apply(ctx context.Context, ruleID string, action Action, actor, comment string) (domain.PricingRule, error) {
	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PricingRule{}, domain.NewNotFoundError("pricing rule", ruleID)
		}
		return domain.PricingRule{}, fmt.Errorf("failed to load rule: %w", err)
	}

	from := rule.ApprovalStatus
	to, err := Transition(from, action)
	if err != nil {
		s.record(ctx, actor, ruleID, action, from, "", comment, err)
		return domain.PricingRule{}, err
	}

	updated, err := s.rules.UpdateOne(ctx, ruleID, repository.RuleUpdate{
		ExpectStatus:   &from,
		ApprovalStatus: &to,
		IsActive:       Activation(action),
		UpdatedAt:      s.now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			err = domain.NewInvalidStateError("rule changed concurrently", err.Error())
		case errors.Is(err, repository.ErrNotFound):
			err = domain.NewNotFoundError("pricing rule", ruleID)
		default:
			err = fmt.Errorf("failed to update rule: %w", err)
		}
		s.record(ctx, actor, ruleID, action, from, to, comment, err)
		return domain.PricingRule{}, err
	}

	s.record(ctx, actor, ruleID, action, from, to, comment, nil)
	log.Info(ctx, "Pricing rule transitioned",
		zap.String("rule_id", ruleID),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return updated, nil
}

func (s *Service) record(ctx context.Context, actor, ruleID string, action Action, from, to domain.ApprovalStatus, comment string, cause error) {
	outcome := "success"
	if cause != nil {
		outcome = "rejected"
		if !domain.IsCode(cause, domain.ErrCodeInvalidState) {
			outcome = "error"
		}
	}
	metrics.RecordApprovalTransition(string(action), outcome)

	if s.audit == nil {
		return
	}
	if err := s.audit.LogRuleTransition(ctx, actor, ruleID, string(action), string(from), string(to), comment, cause); err != nil {
		s.logger.Error("Failed to write audit event", zap.String("rule_id", ruleID), zap.Error(err))
	}
}

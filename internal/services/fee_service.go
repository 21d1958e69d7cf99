package services

import (
	"context"
	"fmt"

	"github.com/escrowline/backend/internal/models"
	"github.com/escrowline/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var oneHundred = decimal.NewFromInt(100)

// FeeService prices transactions from persisted fee rules. The
// calculation itself is pure; the service only loads the matching rule
// set and delegates to computeFees.
type FeeService struct {
	ruleRepo *repositories.FeeRuleRepo
	log      *zap.Logger
}

func NewFeeService(ruleRepo *repositories.FeeRuleRepo, log *zap.Logger) *FeeService {
	return &FeeService{ruleRepo: ruleRepo, log: log}
}

type FeeCalcRequest struct {
	Amount          decimal.Decimal
	Currency        string
	TransactionType string
	FromCountry     *string
	ToCountry       *string
	UserTier        string
}

// Calculate computes the fee for a transaction. No matching rule means
// zero fee, never an error.
func (s *FeeService) Calculate(ctx context.Context, req FeeCalcRequest) (*models.FeeResult, error) {
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if !models.IsValidCurrency(req.Currency) {
		return nil, fmt.Errorf("invalid currency %q: %w", req.Currency, models.ErrCurrencyMismatch)
	}

	rules, err := s.ruleRepo.ListActiveMatching(ctx, req.Currency, req.TransactionType)
	if err != nil {
		return nil, fmt.Errorf("load fee rules: %w", err)
	}

	result := computeFees(rules, req.Amount, req.FromCountry, req.ToCountry, req.UserTier)
	return &result, nil
}

// computeFees evaluates the rule set against one transaction. Per rule:
// accumulate the fixed and percentage components, clamp the rule's
// contribution to its max fee (the clamped excess is tracked as a
// discount, not charged), then take the tier discount off the sum.
func computeFees(rules []models.FeeRule, amount decimal.Decimal, fromCountry, toCountry *string, tier string) models.FeeResult {
	result := models.FeeResult{
		FeeAmount:    decimal.Zero,
		AppliedRules: []string{},
		Breakdown: models.FeeBreakdown{
			Fixed:      decimal.Zero,
			Percentage: decimal.Zero,
			Discounts:  decimal.Zero,
			Total:      decimal.Zero,
		},
	}

	subtotal := decimal.Zero
	for _, rule := range rules {
		if !rule.Matches(fromCountry, toCountry) {
			continue
		}
		if amount.LessThan(rule.MinAmount) {
			continue
		}

		fixed := rule.FixedAmount
		percentage := amount.Mul(rule.Percent).Div(oneHundred)
		contribution := fixed.Add(percentage)

		if rule.MaxFee != nil && contribution.GreaterThan(*rule.MaxFee) {
			result.Breakdown.Discounts = result.Breakdown.Discounts.Add(contribution.Sub(*rule.MaxFee))
			contribution = *rule.MaxFee
		}

		result.Breakdown.Fixed = result.Breakdown.Fixed.Add(fixed)
		result.Breakdown.Percentage = result.Breakdown.Percentage.Add(percentage)
		result.AppliedRules = append(result.AppliedRules, rule.Name)
		subtotal = subtotal.Add(contribution)
	}

	if pct, ok := models.TierDiscountPercent[tier]; ok && pct > 0 {
		tierDiscount := subtotal.Mul(decimal.NewFromInt(pct)).Div(oneHundred)
		result.Breakdown.Discounts = result.Breakdown.Discounts.Add(tierDiscount)
		subtotal = subtotal.Sub(tierDiscount)
	}

	result.FeeAmount = subtotal
	result.Breakdown.Total = subtotal
	return result
}

// ---- Rule management ----

func (s *FeeService) CreateRule(ctx context.Context, rule *models.FeeRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		return fmt.Errorf("create fee rule: %w", err)
	}
	s.log.Info("fee rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("name", rule.Name))
	return nil
}

func (s *FeeService) UpdateRule(ctx context.Context, rule *models.FeeRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.ruleRepo.Update(ctx, rule)
}

func (s *FeeService) GetRule(ctx context.Context, id uuid.UUID) (*models.FeeRule, error) {
	return s.ruleRepo.GetByID(ctx, id)
}

func (s *FeeService) ListRules(ctx context.Context, limit, offset int) ([]models.FeeRule, error) {
	return s.ruleRepo.List(ctx, limit, offset)
}

func validateRule(rule *models.FeeRule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !models.IsValidCurrency(rule.Currency) {
		return models.ErrCurrencyMismatch
	}
	if rule.FixedAmount.IsNegative() || rule.Percent.IsNegative() || rule.MinAmount.IsNegative() {
		return models.ErrInvalidAmount
	}
	if rule.Percent.GreaterThan(oneHundred) {
		return models.ErrInvalidAmount
	}
	if rule.MaxFee != nil && rule.MaxFee.IsNegative() {
		return models.ErrInvalidAmount
	}
	return nil
}

package services

import (
	"testing"

	"github.com/escrowline/backend/internal/models"
	"github.com/shopspring/decimal"
)

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func percentRule(name, percent string, maxFee *decimal.Decimal) models.FeeRule {
	return models.FeeRule{
		Name:            name,
		Currency:        "USD",
		TransactionType: models.TransferTypeInternal,
		FixedAmount:     decimal.Zero,
		Percent:         decimal.RequireFromString(percent),
		MinAmount:       decimal.Zero,
		MaxFee:          maxFee,
		Active:          true,
	}
}

func TestComputeFeesNoRules(t *testing.T) {
	result := computeFees(nil, decimal.RequireFromString("1000"), nil, nil, models.TierBasic)

	if !result.FeeAmount.IsZero() {
		t.Errorf("fee with no rules = %s, want 0", result.FeeAmount)
	}
	if len(result.AppliedRules) != 0 {
		t.Errorf("applied rules = %v, want none", result.AppliedRules)
	}
}

func TestComputeFeesPercentageCappedAtMaxFee(t *testing.T) {
	// $1000 at 1% capped at $5: the computed $10 is clamped, $5 is
	// recorded as discount.
	rules := []models.FeeRule{percentRule("intl-1pct", "1", decPtr("5"))}

	result := computeFees(rules, decimal.RequireFromString("1000"), nil, nil, "")

	if !result.FeeAmount.Equal(decimal.RequireFromString("5")) {
		t.Errorf("fee = %s, want 5", result.FeeAmount)
	}
	if !result.Breakdown.Percentage.Equal(decimal.RequireFromString("10")) {
		t.Errorf("percentage component = %s, want 10", result.Breakdown.Percentage)
	}
	if !result.Breakdown.Discounts.Equal(decimal.RequireFromString("5")) {
		t.Errorf("discounts = %s, want 5", result.Breakdown.Discounts)
	}
	if len(result.AppliedRules) != 1 || result.AppliedRules[0] != "intl-1pct" {
		t.Errorf("applied rules = %v, want [intl-1pct]", result.AppliedRules)
	}
}

func TestComputeFeesFixedPlusPercentage(t *testing.T) {
	rules := []models.FeeRule{{
		Name:            "base",
		Currency:        "USD",
		TransactionType: models.TransferTypeInternal,
		FixedAmount:     decimal.RequireFromString("0.30"),
		Percent:         decimal.RequireFromString("2.9"),
		MinAmount:       decimal.Zero,
		Active:          true,
	}}

	result := computeFees(rules, decimal.RequireFromString("100"), nil, nil, models.TierBasic)

	// 0.30 + 2.9% of 100 = 3.20
	if !result.FeeAmount.Equal(decimal.RequireFromString("3.20")) {
		t.Errorf("fee = %s, want 3.20", result.FeeAmount)
	}
	if !result.Breakdown.Fixed.Equal(decimal.RequireFromString("0.30")) {
		t.Errorf("fixed component = %s, want 0.30", result.Breakdown.Fixed)
	}
}

func TestComputeFeesMinAmountThreshold(t *testing.T) {
	rules := []models.FeeRule{{
		Name:            "large-only",
		Currency:        "USD",
		TransactionType: models.TransferTypeInternal,
		FixedAmount:     decimal.RequireFromString("10"),
		Percent:         decimal.Zero,
		MinAmount:       decimal.RequireFromString("500"),
		Active:          true,
	}}

	below := computeFees(rules, decimal.RequireFromString("499.99"), nil, nil, "")
	if !below.FeeAmount.IsZero() {
		t.Errorf("fee below threshold = %s, want 0", below.FeeAmount)
	}

	at := computeFees(rules, decimal.RequireFromString("500"), nil, nil, "")
	if !at.FeeAmount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("fee at threshold = %s, want 10", at.FeeAmount)
	}
}

func TestComputeFeesCountryConstraint(t *testing.T) {
	rules := []models.FeeRule{{
		Name:            "us-corridor",
		Currency:        "USD",
		TransactionType: models.TransferTypeInternal,
		Country:         strPtr("US"),
		FixedAmount:     decimal.RequireFromString("1"),
		Percent:         decimal.Zero,
		MinAmount:       decimal.Zero,
		Active:          true,
	}}
	amount := decimal.RequireFromString("100")

	if got := computeFees(rules, amount, strPtr("US"), strPtr("DE"), ""); !got.FeeAmount.Equal(decimal.RequireFromString("1")) {
		t.Errorf("fee with matching from-country = %s, want 1", got.FeeAmount)
	}
	if got := computeFees(rules, amount, strPtr("DE"), strPtr("US"), ""); !got.FeeAmount.Equal(decimal.RequireFromString("1")) {
		t.Errorf("fee with matching to-country = %s, want 1", got.FeeAmount)
	}
	if got := computeFees(rules, amount, strPtr("DE"), strPtr("FR"), ""); !got.FeeAmount.IsZero() {
		t.Errorf("fee with no matching country = %s, want 0", got.FeeAmount)
	}
	if got := computeFees(rules, amount, nil, nil, ""); !got.FeeAmount.IsZero() {
		t.Errorf("fee with unknown corridor = %s, want 0", got.FeeAmount)
	}
}

func TestComputeFeesTierDiscount(t *testing.T) {
	rules := []models.FeeRule{percentRule("flat-10pct", "10", nil)}
	amount := decimal.RequireFromString("100") // fee before discount: 10

	tests := []struct {
		tier string
		want string
	}{
		{models.TierBasic, "10"},
		{models.TierSilver, "9.5"},
		{models.TierGold, "9"},
		{models.TierPlatinum, "8.5"},
		{"unknown-tier", "10"},
		{"", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			result := computeFees(rules, amount, nil, nil, tt.tier)
			if !result.FeeAmount.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("fee for tier %q = %s, want %s", tt.tier, result.FeeAmount, tt.want)
			}
		})
	}
}

func TestComputeFeesMultipleRulesAccumulate(t *testing.T) {
	rules := []models.FeeRule{
		percentRule("pct-1", "1", nil),
		{
			Name:            "fixed-2",
			Currency:        "USD",
			TransactionType: models.TransferTypeInternal,
			FixedAmount:     decimal.RequireFromString("2"),
			Percent:         decimal.Zero,
			MinAmount:       decimal.Zero,
			Active:          true,
		},
	}

	result := computeFees(rules, decimal.RequireFromString("100"), nil, nil, "")

	// 1% of 100 + 2 fixed = 3
	if !result.FeeAmount.Equal(decimal.RequireFromString("3")) {
		t.Errorf("fee = %s, want 3", result.FeeAmount)
	}
	if len(result.AppliedRules) != 2 {
		t.Errorf("applied rules = %v, want 2 entries", result.AppliedRules)
	}
}

func TestComputeFeesTotalMatchesBreakdown(t *testing.T) {
	rules := []models.FeeRule{
		percentRule("capped", "5", decPtr("2")),
		percentRule("uncapped", "1", nil),
	}

	result := computeFees(rules, decimal.RequireFromString("200"), nil, nil, models.TierGold)

	if !result.FeeAmount.Equal(result.Breakdown.Total) {
		t.Errorf("fee %s != breakdown total %s", result.FeeAmount, result.Breakdown.Total)
	}
	// Components minus discounts must equal total.
	reconstructed := result.Breakdown.Fixed.Add(result.Breakdown.Percentage).Sub(result.Breakdown.Discounts)
	if !reconstructed.Equal(result.Breakdown.Total) {
		t.Errorf("fixed + percentage - discounts = %s, want %s", reconstructed, result.Breakdown.Total)
	}
}

func TestValidateRule(t *testing.T) {
	valid := models.FeeRule{
		Name:        "ok",
		Currency:    "USD",
		FixedAmount: decimal.Zero,
		Percent:     decimal.RequireFromString("2"),
		MinAmount:   decimal.Zero,
	}
	if err := validateRule(&valid); err != nil {
		t.Errorf("validateRule(valid) = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*models.FeeRule)
	}{
		{"empty name", func(r *models.FeeRule) { r.Name = "" }},
		{"bad currency", func(r *models.FeeRule) { r.Currency = "usd" }},
		{"negative fixed", func(r *models.FeeRule) { r.FixedAmount = decimal.RequireFromString("-1") }},
		{"negative percent", func(r *models.FeeRule) { r.Percent = decimal.RequireFromString("-1") }},
		{"percent over 100", func(r *models.FeeRule) { r.Percent = decimal.RequireFromString("101") }},
		{"negative min amount", func(r *models.FeeRule) { r.MinAmount = decimal.RequireFromString("-1") }},
		{"negative max fee", func(r *models.FeeRule) { r.MaxFee = decPtr("-1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			tt.mutate(&rule)
			if err := validateRule(&rule); err == nil {
				t.Errorf("validateRule(%s) = nil, want error", tt.name)
			}
		})
	}
}

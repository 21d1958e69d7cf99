package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fee tiers. Each tier takes a percentage off the accumulated fee.
const (
	TierBasic    = "basic"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// TierDiscountPercent maps a fee tier to its discount, in percent.
var TierDiscountPercent = map[string]int64{
	TierBasic:    0,
	TierSilver:   5,
	TierGold:     10,
	TierPlatinum: 15,
}

// FeeRule is one persisted pricing rule. A rule matches a transaction by
// currency + type and, when Country is set, by either side's country.
type FeeRule struct {
	ID              uuid.UUID        `json:"id"`
	Name            string           `json:"name"`
	Currency        string           `json:"currency"`
	TransactionType string           `json:"transaction_type"`
	Country         *string          `json:"country,omitempty"` // nil = any corridor
	FixedAmount     decimal.Decimal  `json:"fixed_amount"`
	Percent         decimal.Decimal  `json:"percent"`
	MinAmount       decimal.Decimal  `json:"min_amount"`
	MaxFee          *decimal.Decimal `json:"max_fee,omitempty"` // nil = uncapped
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Matches reports whether the rule applies to the given corridor. The
// currency/type match is done by the rule query; this only checks the
// optional country constraint.
func (r *FeeRule) Matches(fromCountry, toCountry *string) bool {
	if r.Country == nil {
		return true
	}
	if fromCountry != nil && *fromCountry == *r.Country {
		return true
	}
	if toCountry != nil && *toCountry == *r.Country {
		return true
	}
	return false
}

// FeeBreakdown itemises how a fee was assembled.
type FeeBreakdown struct {
	Fixed      decimal.Decimal `json:"fixed"`
	Percentage decimal.Decimal `json:"percentage"`
	Discounts  decimal.Decimal `json:"discounts"` // cap clamps + tier discount
	Total      decimal.Decimal `json:"total"`
}

// FeeResult is the outcome of a fee calculation. AppliedRules names the
// rules that contributed, in evaluation order.
type FeeResult struct {
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	Breakdown    FeeBreakdown    `json:"breakdown"`
	AppliedRules []string        `json:"applied_rules"`
}

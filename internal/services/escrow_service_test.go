package services

import (
	"errors"
	"testing"

	"github.com/escrowline/backend/internal/models"
	"github.com/escrowline/backend/internal/rbac"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func party(role string) *models.Party {
	id := uuid.New()
	return &models.Party{ID: uuid.New(), UserID: &id, Role: role}
}

func TestCanResolveDispute(t *testing.T) {
	tests := []struct {
		name  string
		party *models.Party
		admin bool
		want  error
	}{
		{"mediator", party(rbac.RoleMediator), false, nil},
		{"buyer denied", party(rbac.RoleBuyer), false, models.ErrPermissionDenied},
		{"seller denied", party(rbac.RoleSeller), false, models.ErrPermissionDenied},
		{"outsider", nil, false, models.ErrNotParty},
		{"admin without party", nil, true, nil},
		{"admin overrides role", party(rbac.RoleBuyer), true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := canResolveDispute(tt.party, tt.admin)
			if tt.want == nil {
				if err != nil {
					t.Errorf("canResolveDispute = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("canResolveDispute = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateSplitAmounts(t *testing.T) {
	held := decimal.RequireFromString("100")

	tests := []struct {
		name    string
		refund  *decimal.Decimal
		release *decimal.Decimal
		want    error
	}{
		{"exact split", decPtr("60"), decPtr("40"), nil},
		{"partial split leaves remainder", decPtr("10"), decPtr("20"), nil},
		{"zero refund full release", decPtr("0"), decPtr("100"), nil},
		{"missing refund", nil, decPtr("40"), models.ErrInvalidAmount},
		{"missing release", decPtr("60"), nil, models.ErrInvalidAmount},
		{"negative refund", decPtr("-1"), decPtr("40"), models.ErrInvalidAmount},
		{"negative release", decPtr("60"), decPtr("-1"), models.ErrInvalidAmount},
		{"sum exceeds held funds", decPtr("60"), decPtr("41"), models.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSplitAmounts(tt.refund, tt.release, held)
			if tt.want == nil {
				if err != nil {
					t.Errorf("validateSplitAmounts = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("validateSplitAmounts = %v, want %v", err, tt.want)
			}
		})
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escrowline/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestExecuteTransferValidation(t *testing.T) {
	from := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	to := uuid.MustParse("650e8400-e29b-41d4-a716-446655440000")
	valid := TransferRequest{
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        decimal.RequireFromString("25"),
		Currency:      "USD",
	}

	tests := []struct {
		name   string
		mutate func(*TransferRequest)
		want   error
	}{
		{"zero amount", func(r *TransferRequest) { r.Amount = decimal.Zero }, models.ErrInvalidAmount},
		{"negative amount", func(r *TransferRequest) { r.Amount = decimal.RequireFromString("-5") }, models.ErrInvalidAmount},
		{"lowercase currency", func(r *TransferRequest) { r.Currency = "usd" }, models.ErrCurrencyMismatch},
		{"four letter currency", func(r *TransferRequest) { r.Currency = "USDT" }, models.ErrCurrencyMismatch},
		{"same account both sides", func(r *TransferRequest) { r.ToAccountID = r.FromAccountID }, models.ErrInvalidAmount},
		{"malformed idempotency key", func(r *TransferRequest) { r.IdempotencyKey = "has spaces!" }, models.ErrInvalidAmount},
	}

	// The zero-value service is enough: every case must be rejected
	// before any repository or pool access.
	svc := &TransferService{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := svc.ExecuteTransfer(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Errorf("ExecuteTransfer error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRequireTransferable(t *testing.T) {
	user := &models.Account{ID: uuid.New(), Kind: models.AccountKindUser}
	if err := requireTransferable(user); err != nil {
		t.Errorf("user account rejected: %v", err)
	}

	holding := &models.Account{ID: uuid.New(), Kind: models.AccountKindEscrow}
	if err := requireTransferable(holding); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("holding account error = %v, want ErrPermissionDenied", err)
	}
}

func TestDeriveIdempotencyKeyDeterministic(t *testing.T) {
	req := TransferRequest{
		FromAccountID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		ToAccountID:   uuid.MustParse("650e8400-e29b-41d4-a716-446655440000"),
		Amount:        decimal.RequireFromString("100.50"),
		Currency:      "USD",
	}

	first := deriveIdempotencyKey(req)
	second := deriveIdempotencyKey(req)
	if first != second {
		t.Errorf("same request derived different keys: %q vs %q", first, second)
	}
	if !models.IsValidIdempotencyKey(first) {
		t.Errorf("derived key %q is not a valid idempotency key", first)
	}
	if len(first) != 64 {
		t.Errorf("derived key length = %d, want 64 hex chars", len(first))
	}
}

func TestDeriveIdempotencyKeyDistinguishesRequests(t *testing.T) {
	base := TransferRequest{
		FromAccountID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		ToAccountID:   uuid.MustParse("650e8400-e29b-41d4-a716-446655440000"),
		Amount:        decimal.RequireFromString("100"),
		Currency:      "USD",
	}
	baseKey := deriveIdempotencyKey(base)

	tests := []struct {
		name   string
		mutate func(*TransferRequest)
	}{
		{"different amount", func(r *TransferRequest) { r.Amount = decimal.RequireFromString("100.01") }},
		{"different currency", func(r *TransferRequest) { r.Currency = "EUR" }},
		{"different destination", func(r *TransferRequest) { r.ToAccountID = uuid.MustParse("750e8400-e29b-41d4-a716-446655440000") }},
		{"swapped direction", func(r *TransferRequest) { r.FromAccountID, r.ToAccountID = r.ToAccountID, r.FromAccountID }},
		{"with description", func(r *TransferRequest) { d := "rent"; r.Description = &d }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if key := deriveIdempotencyKey(req); key == baseKey {
				t.Errorf("%s derived the same key as the base request", tt.name)
			}
		})
	}
}

func TestDeriveIdempotencyKeyIgnoresActor(t *testing.T) {
	// The actor and tier are not part of the logical payload; the same
	// transfer retried through a different session must deduplicate.
	base := TransferRequest{
		FromAccountID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		ToAccountID:   uuid.MustParse("650e8400-e29b-41d4-a716-446655440000"),
		Amount:        decimal.RequireFromString("100"),
		Currency:      "USD",
	}
	withActor := base
	actorID := uuid.New()
	withActor.ActorUserID = &actorID
	withActor.UserTier = models.TierGold

	if deriveIdempotencyKey(base) != deriveIdempotencyKey(withActor) {
		t.Error("actor identity changed the derived idempotency key")
	}
}

func TestVelocityWindowStarts(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2026, time.August, 31, 15, 42, 7, 0, loc)

	dayStart, monthStart := velocityWindowStarts(now)

	wantDay := time.Date(2026, time.August, 31, 0, 0, 0, 0, loc)
	if !dayStart.Equal(wantDay) {
		t.Errorf("dayStart = %v, want %v", dayStart, wantDay)
	}
	wantMonth := time.Date(2026, time.August, 1, 0, 0, 0, 0, loc)
	if !monthStart.Equal(wantMonth) {
		t.Errorf("monthStart = %v, want %v", monthStart, wantMonth)
	}
	if dayStart.Location() != loc || monthStart.Location() != loc {
		t.Error("window starts must stay in the caller's location")
	}
}

func TestVelocityWindowStartsFirstOfMonth(t *testing.T) {
	now := time.Date(2026, time.September, 1, 0, 0, 1, 0, time.UTC)

	dayStart, monthStart := velocityWindowStarts(now)
	if !dayStart.Equal(monthStart) {
		t.Errorf("on the first of the month dayStart %v should equal monthStart %v", dayStart, monthStart)
	}
}

package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/escrowline/backend/internal/config"
	"github.com/escrowline/backend/internal/events"
	"github.com/escrowline/backend/internal/models"
	"github.com/escrowline/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

// TransferService owns every balance mutation. Transfers and escrow
// movements alike go through its locked atomic section so all changes
// produce matched debit/credit ledger pairs.
type TransferService struct {
	pool         *pgxpool.Pool
	accountRepo  *repositories.AccountRepo
	transferRepo *repositories.TransferRepo
	activityRepo *repositories.ActivityRepo
	feeService   *FeeService
	publisher    events.Publisher
	cfg          *config.Config
	log          *zap.Logger
}

func NewTransferService(
	pool *pgxpool.Pool,
	accountRepo *repositories.AccountRepo,
	transferRepo *repositories.TransferRepo,
	activityRepo *repositories.ActivityRepo,
	feeService *FeeService,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *TransferService {
	return &TransferService{
		pool:         pool,
		accountRepo:  accountRepo,
		transferRepo: transferRepo,
		activityRepo: activityRepo,
		feeService:   feeService,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
	}
}

// ---- Accounts ----

func (s *TransferService) CreateAccount(ctx context.Context, userID uuid.UUID, currency string) (*models.Account, error) {
	if !models.IsValidCurrency(currency) {
		return nil, fmt.Errorf("invalid currency %q: %w", currency, models.ErrCurrencyMismatch)
	}

	daily := s.cfg.DefaultDailyLimit
	monthly := s.cfg.DefaultMonthlyLimit
	account := &models.Account{
		UserID:       userID,
		Currency:     currency,
		Kind:         models.AccountKindUser,
		DailyLimit:   &daily,
		MonthlyLimit: &monthly,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return s.accountRepo.GetByUserAndCurrency(ctx, userID, currency)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	_ = s.activityRepo.Log(ctx, models.Activity{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "account_created",
		EntityType:  "account",
		EntityID:    &account.ID,
	})
	s.publish(ctx, events.StreamTransfer, events.Event{
		Type: events.EventAccountCreated,
		Payload: map[string]any{
			"account_id": account.ID.String(),
			"user_id":    userID.String(),
			"currency":   currency,
		},
	})
	return account, nil
}

func (s *TransferService) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.accountRepo.GetByID(ctx, id)
}

func (s *TransferService) ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	return s.accountRepo.ListByUser(ctx, userID)
}

func (s *TransferService) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	return s.accountRepo.ListEntries(ctx, accountID, limit, offset)
}

func (s *TransferService) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return s.transferRepo.GetByID(ctx, id)
}

func (s *TransferService) ListTransfers(ctx context.Context, f repositories.TransferFilter) ([]models.Transfer, error) {
	return s.transferRepo.List(ctx, f)
}

// ---- Transfer execution ----

type TransferRequest struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Description    *string
	IdempotencyKey string
	UserTier       string
	ActorUserID    *uuid.UUID
}

// ExecuteTransfer moves money between two accounts. Replays with the
// same idempotency key return the original transfer without touching
// balances; when no key is supplied one is derived from the request so
// blind retries still deduplicate.
func (s *TransferService) ExecuteTransfer(ctx context.Context, req TransferRequest) (*models.Transfer, error) {
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if !models.IsValidCurrency(req.Currency) {
		return nil, fmt.Errorf("invalid currency %q: %w", req.Currency, models.ErrCurrencyMismatch)
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, fmt.Errorf("source and destination are the same account: %w", models.ErrInvalidAmount)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = deriveIdempotencyKey(req)
	} else if !models.IsValidIdempotencyKey(key) {
		return nil, fmt.Errorf("malformed idempotency key: %w", models.ErrInvalidAmount)
	}

	if existing, err := s.transferRepo.GetByIdempotencyKey(ctx, key); err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	source, err := s.accountRepo.GetByID(ctx, req.FromAccountID)
	if err != nil {
		return nil, err
	}
	dest, err := s.accountRepo.GetByID(ctx, req.ToAccountID)
	if err != nil {
		return nil, err
	}
	if err := requireTransferable(source); err != nil {
		return nil, err
	}
	if err := requireTransferable(dest); err != nil {
		return nil, err
	}

	// Advisory velocity check outside the lock; the unique key and the
	// balance check under lock remain the correctness guarantees.
	if err := s.checkVelocity(ctx, source, req.Amount, time.Now()); err != nil {
		return nil, err
	}

	feeResult, err := s.feeService.Calculate(ctx, FeeCalcRequest{
		Amount:          req.Amount,
		Currency:        req.Currency,
		TransactionType: models.TransferTypeInternal,
		UserTier:        req.UserTier,
	})
	if err != nil {
		return nil, err
	}
	feeAmount := feeResult.FeeAmount

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	transfer, err := s.executeLocked(ctx, tx, req, key, feeAmount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Lost the race on the idempotency key: the winner's
			// transfer is the result.
			_ = tx.Rollback(ctx)
			winner, rerr := s.transferRepo.GetByIdempotencyKey(ctx, key)
			if rerr != nil || winner == nil {
				return nil, fmt.Errorf("%w: re-read after key collision failed", models.ErrStorageUnavailable)
			}
			return winner, nil
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	_ = s.activityRepo.Log(ctx, models.Activity{
		ActorUserID: req.ActorUserID,
		ActorType:   "user",
		Action:      "transfer_completed",
		EntityType:  "transfer",
		EntityID:    &transfer.ID,
		Meta: map[string]any{
			"amount":   transfer.Amount.String(),
			"currency": transfer.Currency,
			"fee":      transfer.FeeAmount.String(),
		},
	})
	s.publish(ctx, events.StreamTransfer, events.Event{
		Type: events.EventTransferCompleted,
		Payload: map[string]any{
			"transfer_id":     transfer.ID.String(),
			"from_account_id": transfer.FromAccountID.String(),
			"to_account_id":   transfer.ToAccountID.String(),
			"amount":          transfer.Amount.String(),
			"currency":        transfer.Currency,
		},
	})
	s.log.Info("transfer completed",
		zap.String("transfer_id", transfer.ID.String()),
		zap.String("amount", transfer.Amount.String()),
		zap.String("currency", transfer.Currency))

	return transfer, nil
}

// executeLocked runs the atomic section: lock both accounts in
// canonical order, validate, insert the transfer, apply the paired
// movements. Any error rolls back the whole section.
func (s *TransferService) executeLocked(ctx context.Context, tx pgx.Tx, req TransferRequest, key string, feeAmount decimal.Decimal) (*models.Transfer, error) {
	source, dest, err := s.lockAccountPair(ctx, tx, req.FromAccountID, req.ToAccountID)
	if err != nil {
		return nil, err
	}

	if source.Currency != req.Currency || dest.Currency != req.Currency {
		return nil, models.ErrCurrencyMismatch
	}
	totalDebit := req.Amount.Add(feeAmount)
	if source.Balance.LessThan(totalDebit) {
		return nil, models.ErrInsufficientFunds
	}

	now := time.Now()
	transfer := &models.Transfer{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.TransferStatusCompleted,
		Type:           models.TransferTypeInternal,
		IdempotencyKey: key,
		FeeAmount:      feeAmount,
		Description:    req.Description,
		CompletedAt:    &now,
	}
	if err := s.transferRepo.CreateTx(ctx, tx, transfer); err != nil {
		return nil, err
	}

	refType := models.ReferenceTypeTransfer
	description := "transfer"
	if req.Description != nil {
		description = *req.Description
	}
	if _, err := s.accountRepo.ApplyMovement(ctx, tx, req.FromAccountID, req.Amount.Neg(), description, &refType, &transfer.ID); err != nil {
		return nil, err
	}
	if _, err := s.accountRepo.ApplyMovement(ctx, tx, req.ToAccountID, req.Amount, description, &refType, &transfer.ID); err != nil {
		return nil, err
	}

	// The fee leg is its own transfer row so platform revenue shows up
	// as a fee-type transfer, not as extra ledger lines on the parent.
	if feeAmount.IsPositive() && s.cfg.PlatformAccountID != uuid.Nil {
		feeDescription := "transfer fee"
		feeTransfer := &models.Transfer{
			FromAccountID:  req.FromAccountID,
			ToAccountID:    s.cfg.PlatformAccountID,
			Amount:         feeAmount,
			Currency:       req.Currency,
			Status:         models.TransferStatusCompleted,
			Type:           models.TransferTypeFee,
			IdempotencyKey: key + "-fee",
			FeeAmount:      decimal.Zero,
			Description:    &feeDescription,
			CompletedAt:    &now,
		}
		if err := s.transferRepo.CreateTx(ctx, tx, feeTransfer); err != nil {
			return nil, err
		}
		if _, err := s.accountRepo.ApplyMovement(ctx, tx, req.FromAccountID, feeAmount.Neg(), feeDescription, &refType, &feeTransfer.ID); err != nil {
			return nil, err
		}
		if _, err := s.accountRepo.ApplyMovement(ctx, tx, s.cfg.PlatformAccountID, feeAmount, feeDescription, &refType, &feeTransfer.ID); err != nil {
			return nil, err
		}
	}

	return transfer, nil
}

// requireTransferable rejects accounts that cannot take part in a
// direct transfer. Escrow holding accounts move money only through
// escrow operations, never through this path.
func requireTransferable(a *models.Account) error {
	if a.Kind != models.AccountKindUser {
		return fmt.Errorf("account %s is not a user account: %w", a.ID, models.ErrPermissionDenied)
	}
	return nil
}

// MoveFundsTx performs a completed transfer inside the caller's
// transaction. The escrow engine uses it for funding, release and
// refund movements so every escrow money flow is a normal transfer with
// a matched ledger pair. The caller owns commit and rollback.
func (s *TransferService) MoveFundsTx(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, amount decimal.Decimal, currency, transferType, description string) (*models.Transfer, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	source, dest, err := s.lockAccountPair(ctx, tx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if source.Currency != currency || dest.Currency != currency {
		return nil, models.ErrCurrencyMismatch
	}
	if source.Balance.LessThan(amount) {
		return nil, models.ErrInsufficientFunds
	}

	now := time.Now()
	transfer := &models.Transfer{
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Amount:         amount,
		Currency:       currency,
		Status:         models.TransferStatusCompleted,
		Type:           transferType,
		IdempotencyKey: uuid.NewString(),
		FeeAmount:      decimal.Zero,
		Description:    &description,
		CompletedAt:    &now,
	}
	if err := s.transferRepo.CreateTx(ctx, tx, transfer); err != nil {
		return nil, err
	}

	refType := models.ReferenceTypeTransfer
	if _, err := s.accountRepo.ApplyMovement(ctx, tx, fromID, amount.Neg(), description, &refType, &transfer.ID); err != nil {
		return nil, err
	}
	if _, err := s.accountRepo.ApplyMovement(ctx, tx, toID, amount, description, &refType, &transfer.ID); err != nil {
		return nil, err
	}
	return transfer, nil
}

// lockAccountPair takes both row locks in ascending id order so two
// transfers between the same accounts in opposite directions cannot
// deadlock. Results come back in (from, to) order.
func (s *TransferService) lockAccountPair(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID) (*models.Account, *models.Account, error) {
	firstID, secondID := fromID, toID
	if bytes.Compare(toID[:], fromID[:]) < 0 {
		firstID, secondID = toID, fromID
	}

	first, err := s.accountRepo.GetForUpdate(ctx, tx, firstID)
	if err != nil {
		return nil, nil, err
	}
	second, err := s.accountRepo.GetForUpdate(ctx, tx, secondID)
	if err != nil {
		return nil, nil, err
	}

	if first.ID == fromID {
		return first, second, nil
	}
	return second, first, nil
}

// checkVelocity sums completed outgoing volume since local day and
// month start and rejects the transfer when adding the new amount would
// exceed the account's limits.
func (s *TransferService) checkVelocity(ctx context.Context, account *models.Account, amount decimal.Decimal, now time.Time) error {
	dayStart, monthStart := velocityWindowStarts(now)

	dailyLimit := s.cfg.DefaultDailyLimit
	if account.DailyLimit != nil {
		dailyLimit = *account.DailyLimit
	}
	monthlyLimit := s.cfg.DefaultMonthlyLimit
	if account.MonthlyLimit != nil {
		monthlyLimit = *account.MonthlyLimit
	}

	if dailyLimit.IsPositive() {
		daySum, err := s.transferRepo.SumCompletedFromSince(ctx, account.ID, dayStart)
		if err != nil {
			return fmt.Errorf("daily velocity sum: %w", err)
		}
		if daySum.Add(amount).GreaterThan(dailyLimit) {
			return models.ErrDailyLimitExceeded
		}
	}
	if monthlyLimit.IsPositive() {
		monthSum, err := s.transferRepo.SumCompletedFromSince(ctx, account.ID, monthStart)
		if err != nil {
			return fmt.Errorf("monthly velocity sum: %w", err)
		}
		if monthSum.Add(amount).GreaterThan(monthlyLimit) {
			return models.ErrMonthlyLimitExceeded
		}
	}
	return nil
}

// velocityWindowStarts returns the local-time start of the current day
// and month.
func velocityWindowStarts(now time.Time) (dayStart, monthStart time.Time) {
	y, m, d := now.Date()
	dayStart = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	monthStart = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return dayStart, monthStart
}

// deriveIdempotencyKey hashes the canonical request payload so a
// retried identical request maps to the same key.
func deriveIdempotencyKey(req TransferRequest) string {
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	payload := fmt.Sprintf("%s|%s|%s|%s|%s",
		req.FromAccountID, req.ToAccountID, req.Amount.String(), req.Currency, description)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (s *TransferService) publish(ctx context.Context, stream string, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, stream, event); err != nil {
		s.log.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

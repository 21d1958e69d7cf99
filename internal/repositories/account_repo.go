package repositories

import (
	"context"
	"errors"

	"github.com/escrowline/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AccountRepo is the ledger store: account rows plus their append-only
// ledger entries. Balance mutations go through ApplyMovement, which must
// only be called while the account row is locked via GetForUpdate.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `id, user_id, currency, balance, kind, daily_limit, monthly_limit, created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.Kind,
		&a.DailyLimit, &a.MonthlyLimit, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, currency, kind, daily_limit, monthly_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, balance, created_at
	`, a.UserID, a.Currency, a.Kind, a.DailyLimit, a.MonthlyLimit).Scan(&a.ID, &a.Balance, &a.CreatedAt)
}

// CreateTx creates an account inside the caller's transaction. Used for
// escrow holding accounts so the account and the escrow commit together.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	return tx.QueryRow(ctx, `
		INSERT INTO accounts (user_id, currency, kind, daily_limit, monthly_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, balance, created_at
	`, a.UserID, a.Currency, a.Kind, a.DailyLimit, a.MonthlyLimit).Scan(&a.ID, &a.Balance, &a.CreatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) GetByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND currency = $2 AND kind = 'user'`,
		userID, currency))
}

func (r *AccountRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND kind = 'user' ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.Kind,
			&a.DailyLimit, &a.MonthlyLimit, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetForUpdate reads an account under an exclusive row lock. The lock is
// held until the transaction commits or rolls back.
func (r *AccountRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

// ApplyMovement updates the balance and appends the matching ledger
// entry in one step. amount is signed: negative debits, positive
// credits. The caller must hold the row lock and must pair every call
// with an inverse movement on the counterpart account.
func (r *AccountRepo) ApplyMovement(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, description string, refType *string, refID *uuid.UUID) (*models.LedgerEntry, error) {
	var balanceAfter decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE id = $2
		RETURNING balance
	`, amount, accountID).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	entryType := models.EntryTypeCredit
	if amount.IsNegative() {
		entryType = models.EntryTypeDebit
	}

	entry := &models.LedgerEntry{
		AccountID:     accountID,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		EntryType:     entryType,
		Description:   description,
		ReferenceType: refType,
		ReferenceID:   refID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (account_id, amount, balance_after, entry_type, description, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, entry.AccountID, entry.Amount, entry.BalanceAfter, entry.EntryType,
		entry.Description, entry.ReferenceType, entry.ReferenceID).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *AccountRepo) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount, balance_after, entry_type, description, reference_type, reference_id, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.BalanceAfter, &e.EntryType,
			&e.Description, &e.ReferenceType, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escrowline/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type TransferRepo struct {
	pool *pgxpool.Pool
}

func NewTransferRepo(pool *pgxpool.Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

const transferColumns = `id, from_account_id, to_account_id, amount, currency, status, type,
       idempotency_key, fee_amount, description, created_at, completed_at`

func scanTransfer(row pgx.Row) (*models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency,
		&t.Status, &t.Type, &t.IdempotencyKey, &t.FeeAmount, &t.Description,
		&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx inserts a transfer inside the caller's transaction. A unique
// violation on idempotency_key surfaces as a pgconn error the service
// resolves by re-reading the winner.
func (r *TransferRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transfer) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transfers (from_account_id, to_account_id, amount, currency, status, type,
		                       idempotency_key, fee_amount, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, t.FromAccountID, t.ToAccountID, t.Amount, t.Currency, t.Status, t.Type,
		t.IdempotencyKey, t.FeeAmount, t.Description, t.CompletedAt).Scan(&t.ID, &t.CreatedAt)
}

func (r *TransferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTransferNotFound
	}
	return t, err
}

// GetByIdempotencyKey returns (nil, nil) when no transfer exists for the
// key, so the caller can distinguish "fresh request" from a failure.
func (r *TransferRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// SumCompletedFromSince totals completed outgoing transfer amounts for
// velocity checks. Escrow refunds do not count against the sender, and
// fee legs ride their parent transfer rather than counting twice.
func (r *TransferRepo) SumCompletedFromSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transfers
		WHERE from_account_id = $1 AND status = 'completed'
		  AND type NOT IN ('escrow_refund', 'fee')
		  AND completed_at >= $2
	`, accountID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

type TransferFilter struct {
	AccountID *uuid.UUID // matches either side
	Status    *string
	Type      *string
	Limit     int
	Offset    int
}

func (r *TransferRepo) List(ctx context.Context, f TransferFilter) ([]models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.AccountID != nil {
		where = append(where, fmt.Sprintf("(from_account_id = $%d OR to_account_id = $%d)", argIdx, argIdx))
		args = append(args, *f.AccountID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *f.Type)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency,
			&t.Status, &t.Type, &t.IdempotencyKey, &t.FeeAmount, &t.Description,
			&t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

package repositories

import (
	"context"
	"errors"

	"github.com/escrowline/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FeeRuleRepo struct {
	pool *pgxpool.Pool
}

func NewFeeRuleRepo(pool *pgxpool.Pool) *FeeRuleRepo {
	return &FeeRuleRepo{pool: pool}
}

const feeRuleColumns = `id, name, currency, transaction_type, country, fixed_amount, percent,
       min_amount, max_fee, active, created_at, updated_at`

func scanFeeRule(row pgx.Row) (*models.FeeRule, error) {
	var f models.FeeRule
	err := row.Scan(&f.ID, &f.Name, &f.Currency, &f.TransactionType, &f.Country,
		&f.FixedAmount, &f.Percent, &f.MinAmount, &f.MaxFee, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FeeRuleRepo) Create(ctx context.Context, f *models.FeeRule) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO fee_rules (name, currency, transaction_type, country, fixed_amount, percent, min_amount, max_fee, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, f.Name, f.Currency, f.TransactionType, f.Country, f.FixedAmount, f.Percent,
		f.MinAmount, f.MaxFee, f.Active).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *FeeRuleRepo) Update(ctx context.Context, f *models.FeeRule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE fee_rules SET name = $1, currency = $2, transaction_type = $3, country = $4,
		       fixed_amount = $5, percent = $6, min_amount = $7, max_fee = $8, active = $9,
		       updated_at = now()
		WHERE id = $10
	`, f.Name, f.Currency, f.TransactionType, f.Country, f.FixedAmount, f.Percent,
		f.MinAmount, f.MaxFee, f.Active, f.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}

func (r *FeeRuleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FeeRule, error) {
	return scanFeeRule(r.pool.QueryRow(ctx,
		`SELECT `+feeRuleColumns+` FROM fee_rules WHERE id = $1`, id))
}

// ListActiveMatching loads active rules for one currency + transaction
// type; the country constraint is evaluated in the fee engine.
func (r *FeeRuleRepo) ListActiveMatching(ctx context.Context, currency, transactionType string) ([]models.FeeRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+feeRuleColumns+` FROM fee_rules
		WHERE active AND currency = $1 AND transaction_type = $2
		ORDER BY created_at
	`, currency, transactionType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFeeRules(rows)
}

func (r *FeeRuleRepo) List(ctx context.Context, limit, offset int) ([]models.FeeRule, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+feeRuleColumns+` FROM fee_rules ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFeeRules(rows)
}

func collectFeeRules(rows pgx.Rows) ([]models.FeeRule, error) {
	var rules []models.FeeRule
	for rows.Next() {
		var f models.FeeRule
		if err := rows.Scan(&f.ID, &f.Name, &f.Currency, &f.TransactionType, &f.Country,
			&f.FixedAmount, &f.Percent, &f.MinAmount, &f.MaxFee, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, f)
	}
	return rules, rows.Err()
}

package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/escrowline/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// EscrowRepo owns the escrow aggregate: escrows, parties, milestones and
// disputes. Mutations run inside the service's transaction with the
// escrow row locked first via GetForUpdate.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, title, description, status, currency, total_amount,
       platform_fee_amount, platform_fee_percent, auto_release_enabled, auto_release_after_days,
       expires_at, holding_account_id, created_by, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.Currency, &e.TotalAmount,
		&e.PlatformFeeAmount, &e.PlatformFeePercent, &e.AutoReleaseEnabled, &e.AutoReleaseAfterDays,
		&e.ExpiresAt, &e.HoldingAccountID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.Escrow) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrows (title, description, status, currency, total_amount,
		                     platform_fee_amount, platform_fee_percent, auto_release_enabled,
		                     auto_release_after_days, expires_at, holding_account_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`, e.Title, e.Description, e.Status, e.Currency, e.TotalAmount,
		e.PlatformFeeAmount, e.PlatformFeePercent, e.AutoReleaseEnabled,
		e.AutoReleaseAfterDays, e.ExpiresAt, e.HoldingAccountID, e.CreatedBy,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

// GetForUpdate locks the escrow row for the duration of the transaction.
// Every escrow mutation takes this lock first, making the aggregate the
// unit of mutual exclusion.
func (r *EscrowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Escrow, error) {
	return scanEscrow(tx.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id))
}

func (r *EscrowRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx,
		`UPDATE escrows SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

// ListByUser returns escrows where the user is any party, newest first.
func (r *EscrowRepo) ListByUser(ctx context.Context, userID uuid.UUID, status *string, limit, offset int) ([]models.Escrow, error) {
	query := `
		SELECT DISTINCT ` + prefixColumns("e", escrowColumns) + `
		FROM escrows e
		JOIN escrow_parties p ON p.escrow_id = e.id
		WHERE (p.user_id = $1 OR e.created_by = $1)
	`
	args := []any{userID}
	argIdx := 2
	if status != nil {
		query += fmt.Sprintf(" AND e.status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY e.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.Currency, &e.TotalAmount,
			&e.PlatformFeeAmount, &e.PlatformFeePercent, &e.AutoReleaseEnabled, &e.AutoReleaseAfterDays,
			&e.ExpiresAt, &e.HoldingAccountID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// ---- Parties ----

func (r *EscrowRepo) CreatePartyTx(ctx context.Context, tx pgx.Tx, p *models.Party) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrow_parties (escrow_id, user_id, email, role, accepted, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.EscrowID, p.UserID, p.Email, p.Role, p.Accepted, p.AcceptedAt).Scan(&p.ID)
}

func (r *EscrowRepo) GetParties(ctx context.Context, escrowID uuid.UUID) ([]models.Party, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, user_id, email, role, accepted, accepted_at
		FROM escrow_parties WHERE escrow_id = $1 ORDER BY role
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectParties(rows)
}

// GetPartiesTx reads parties inside the aggregate's transaction.
func (r *EscrowRepo) GetPartiesTx(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) ([]models.Party, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, escrow_id, user_id, email, role, accepted, accepted_at
		FROM escrow_parties WHERE escrow_id = $1 ORDER BY role
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectParties(rows)
}

func collectParties(rows pgx.Rows) ([]models.Party, error) {
	var parties []models.Party
	for rows.Next() {
		var p models.Party
		if err := rows.Scan(&p.ID, &p.EscrowID, &p.UserID, &p.Email, &p.Role, &p.Accepted, &p.AcceptedAt); err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

func (r *EscrowRepo) AcceptPartyTx(ctx context.Context, tx pgx.Tx, partyID, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_parties SET accepted = true, accepted_at = now(), user_id = $1
		WHERE id = $2 AND accepted = false
	`, userID, partyID)
	return err
}

// ---- Milestones ----

const milestoneColumns = `id, escrow_id, ord, title, amount, amount_funded, status,
       deliverable_url, deliverable_note, funded_at, submitted_at, approved_at, released_at, created_at`

func scanMilestone(row pgx.Row) (*models.Milestone, error) {
	var m models.Milestone
	err := row.Scan(&m.ID, &m.EscrowID, &m.Ord, &m.Title, &m.Amount, &m.AmountFunded, &m.Status,
		&m.DeliverableURL, &m.DeliverableNote, &m.FundedAt, &m.SubmittedAt, &m.ApprovedAt, &m.ReleasedAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMilestoneNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *EscrowRepo) CreateMilestoneTx(ctx context.Context, tx pgx.Tx, m *models.Milestone) error {
	return tx.QueryRow(ctx, `
		INSERT INTO milestones (escrow_id, ord, title, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, amount_funded, created_at
	`, m.EscrowID, m.Ord, m.Title, m.Amount, m.Status).Scan(&m.ID, &m.AmountFunded, &m.CreatedAt)
}

func (r *EscrowRepo) GetMilestones(ctx context.Context, escrowID uuid.UUID) ([]models.Milestone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE escrow_id = $1 ORDER BY ord`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func (r *EscrowRepo) GetMilestonesTx(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) ([]models.Milestone, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE escrow_id = $1 ORDER BY ord`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func collectMilestones(rows pgx.Rows) ([]models.Milestone, error) {
	var milestones []models.Milestone
	for rows.Next() {
		var m models.Milestone
		if err := rows.Scan(&m.ID, &m.EscrowID, &m.Ord, &m.Title, &m.Amount, &m.AmountFunded, &m.Status,
			&m.DeliverableURL, &m.DeliverableNote, &m.FundedAt, &m.SubmittedAt, &m.ApprovedAt, &m.ReleasedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// GetMilestoneForUpdate locks one milestone row. The escrow row must
// already be locked; this narrows the funding/release critical section.
func (r *EscrowRepo) GetMilestoneForUpdate(ctx context.Context, tx pgx.Tx, escrowID, milestoneID uuid.UUID) (*models.Milestone, error) {
	return scanMilestone(tx.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1 AND escrow_id = $2 FOR UPDATE`,
		milestoneID, escrowID))
}

func (r *EscrowRepo) UpdateMilestoneStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE milestones SET status = $1 WHERE id = $2`, status, id)
	return err
}

// AdvanceMilestonesTx moves every milestone in fromStatus to toStatus,
// used when the whole escrow advances (acceptance, cancellation).
func (r *EscrowRepo) AdvanceMilestonesTx(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, fromStatus, toStatus string) error {
	_, err := tx.Exec(ctx,
		`UPDATE milestones SET status = $1 WHERE escrow_id = $2 AND status = $3`,
		toStatus, escrowID, fromStatus)
	return err
}

func (r *EscrowRepo) AddMilestoneFundingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal, nowFunded bool) error {
	if nowFunded {
		_, err := tx.Exec(ctx, `
			UPDATE milestones SET amount_funded = amount_funded + $1, status = 'funded', funded_at = now()
			WHERE id = $2
		`, amount, id)
		return err
	}
	_, err := tx.Exec(ctx,
		`UPDATE milestones SET amount_funded = amount_funded + $1 WHERE id = $2`, amount, id)
	return err
}

func (r *EscrowRepo) SetDeliverableTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, url string, note *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE milestones SET status = 'under_review', deliverable_url = $1, deliverable_note = $2, submitted_at = now()
		WHERE id = $3
	`, url, note, id)
	return err
}

func (r *EscrowRepo) MarkMilestoneReleasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE milestones SET status = 'released', approved_at = COALESCE(approved_at, now()), released_at = now() WHERE id = $1`, id)
	return err
}

// ---- Disputes ----

const disputeColumns = `id, escrow_id, milestone_id, raised_by_user_id, raised_by_role, reason,
       description, evidence_urls, status, resolution, refund_amount, release_amount,
       respond_by, resolved_by, created_at, resolved_at`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	var evidence []byte
	err := row.Scan(&d.ID, &d.EscrowID, &d.MilestoneID, &d.RaisedByUserID, &d.RaisedByRole, &d.Reason,
		&d.Description, &evidence, &d.Status, &d.Resolution, &d.RefundAmount, &d.ReleaseAmount,
		&d.RespondBy, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(evidence, &d.EvidenceURLs)
	return &d, nil
}

func (r *EscrowRepo) CreateDisputeTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error {
	evidence, _ := json.Marshal(d.EvidenceURLs)
	if d.EvidenceURLs == nil {
		evidence = []byte("[]")
	}
	return tx.QueryRow(ctx, `
		INSERT INTO disputes (escrow_id, milestone_id, raised_by_user_id, raised_by_role, reason,
		                      description, evidence_urls, status, respond_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, d.EscrowID, d.MilestoneID, d.RaisedByUserID, d.RaisedByRole, d.Reason,
		d.Description, evidence, d.Status, d.RespondBy).Scan(&d.ID, &d.CreatedAt)
}

func (r *EscrowRepo) GetDispute(ctx context.Context, escrowID, disputeID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1 AND escrow_id = $2`, disputeID, escrowID))
}

// GetOpenDisputeTx reads the single open dispute inside the aggregate's
// transaction; returns ErrDisputeNotFound when none is open.
func (r *EscrowRepo) GetOpenDisputeTx(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(tx.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE escrow_id = $1 AND status = 'open'`, escrowID))
}

func (r *EscrowRepo) ResolveDisputeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resolution string, refund, release *decimal.Decimal, resolvedBy uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE disputes SET status = 'resolved', resolution = $1, refund_amount = $2,
		       release_amount = $3, resolved_by = $4, resolved_at = now()
		WHERE id = $5 AND status = 'open'
	`, resolution, refund, release, resolvedBy, id)
	return err
}

func (r *EscrowRepo) ListDisputes(ctx context.Context, escrowID uuid.UUID) ([]models.Dispute, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE escrow_id = $1 ORDER BY created_at DESC`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.Dispute
	for rows.Next() {
		var d models.Dispute
		var evidence []byte
		if err := rows.Scan(&d.ID, &d.EscrowID, &d.MilestoneID, &d.RaisedByUserID, &d.RaisedByRole, &d.Reason,
			&d.Description, &evidence, &d.Status, &d.Resolution, &d.RefundAmount, &d.ReleaseAmount,
			&d.RespondBy, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(evidence, &d.EvidenceURLs)
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// ---- Worker queries ----

// AutoReleaseCandidate pairs a milestone due for auto-release with its
// escrow id.
type AutoReleaseCandidate struct {
	EscrowID    uuid.UUID
	MilestoneID uuid.UUID
}

func (r *EscrowRepo) ListAutoReleasable(ctx context.Context, limit int) ([]AutoReleaseCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.escrow_id, m.id
		FROM milestones m
		JOIN escrows e ON e.id = m.escrow_id
		WHERE m.status = 'under_review'
		  AND e.auto_release_enabled
		  AND e.status IN ('funded', 'in_progress')
		  AND m.submitted_at + (e.auto_release_after_days || ' days')::interval < now()
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AutoReleaseCandidate
	for rows.Next() {
		var c AutoReleaseCandidate
		if err := rows.Scan(&c.EscrowID, &c.MilestoneID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *EscrowRepo) ListExpired(ctx context.Context, limit int) ([]models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status IN ('draft', 'awaiting_acceptance', 'awaiting_funding')
		  AND expires_at IS NOT NULL AND expires_at < now()
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.Currency, &e.TotalAmount,
			&e.PlatformFeeAmount, &e.PlatformFeePercent, &e.AutoReleaseEnabled, &e.AutoReleaseAfterDays,
			&e.ExpiresAt, &e.HoldingAccountID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// ListOverdueDisputes returns open disputes whose response deadline has
// passed; the worker emits reminder events for them.
func (r *EscrowRepo) ListOverdueDisputes(ctx context.Context, limit int) ([]models.Dispute, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE status = 'open' AND respond_by < now() LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.Dispute
	for rows.Next() {
		var d models.Dispute
		var evidence []byte
		if err := rows.Scan(&d.ID, &d.EscrowID, &d.MilestoneID, &d.RaisedByUserID, &d.RaisedByRole, &d.Reason,
			&d.Description, &evidence, &d.Status, &d.Resolution, &d.RefundAmount, &d.ReleaseAmount,
			&d.RespondBy, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(evidence, &d.EvidenceURLs)
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// prefixColumns qualifies a comma-separated column list with a table
// alias for join queries.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

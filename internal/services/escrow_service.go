package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escrowline/backend/internal/config"
	"github.com/escrowline/backend/internal/events"
	"github.com/escrowline/backend/internal/models"
	"github.com/escrowline/backend/internal/rbac"
	"github.com/escrowline/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowService drives the escrow aggregate through its state machine.
// Every mutation locks the escrow row first, runs as one transaction
// including its activity entry, and delegates all money movement to the
// transfer service so held funds stay on the ledger.
type EscrowService struct {
	pool         *pgxpool.Pool
	escrowRepo   *repositories.EscrowRepo
	accountRepo  *repositories.AccountRepo
	activityRepo *repositories.ActivityRepo
	transferSvc  *TransferService
	publisher    events.Publisher
	cfg          *config.Config
	log          *zap.Logger
}

func NewEscrowService(
	pool *pgxpool.Pool,
	escrowRepo *repositories.EscrowRepo,
	accountRepo *repositories.AccountRepo,
	activityRepo *repositories.ActivityRepo,
	transferSvc *TransferService,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		pool:         pool,
		escrowRepo:   escrowRepo,
		accountRepo:  accountRepo,
		activityRepo: activityRepo,
		transferSvc:  transferSvc,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
	}
}

// ---- Create / read ----

type MilestoneInput struct {
	Title  string
	Amount decimal.Decimal
}

type PartyInput struct {
	Email string
	Role  string
}

type CreateEscrowRequest struct {
	Title              string
	Description        *string
	Currency           string
	Milestones         []MilestoneInput
	Parties            []PartyInput
	AutoReleaseEnabled bool
	CreatedBy          uuid.UUID
	CreatorEmail       string
}

// Create builds the whole aggregate in one transaction: holding
// account, escrow in draft, parties with the creator pre-accepted as
// buyer, milestones in pending ordered from 1.
func (s *EscrowService) Create(ctx context.Context, req CreateEscrowRequest) (*models.EscrowDetail, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("escrow title is required")
	}
	if !models.IsValidCurrency(req.Currency) {
		return nil, fmt.Errorf("invalid currency %q: %w", req.Currency, models.ErrCurrencyMismatch)
	}
	if len(req.Milestones) == 0 {
		return nil, fmt.Errorf("at least one milestone is required")
	}

	total := decimal.Zero
	for _, m := range req.Milestones {
		if !m.Amount.IsPositive() {
			return nil, models.ErrInvalidAmount
		}
		total = total.Add(m.Amount)
	}

	var hasSeller bool
	for _, p := range req.Parties {
		switch p.Role {
		case models.RoleSeller:
			hasSeller = true
		case models.RoleMediator:
		case models.RoleBuyer:
			return nil, fmt.Errorf("the creating user is the buyer, extra buyer party not allowed")
		default:
			return nil, fmt.Errorf("unknown party role %q", p.Role)
		}
	}
	if !hasSeller {
		return nil, fmt.Errorf("a seller party is required")
	}

	platformFee := total.Mul(s.cfg.PlatformFeePercent).Div(oneHundred)
	expiresAt := time.Now().AddDate(0, 0, s.cfg.EscrowExpiryDays)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	holding := &models.Account{
		UserID:   req.CreatedBy,
		Currency: req.Currency,
		Kind:     models.AccountKindEscrow,
	}
	if err := s.accountRepo.CreateTx(ctx, tx, holding); err != nil {
		return nil, fmt.Errorf("create holding account: %w", err)
	}

	escrow := &models.Escrow{
		Title:                req.Title,
		Description:          req.Description,
		Status:               models.EscrowStatusDraft,
		Currency:             req.Currency,
		TotalAmount:          total,
		PlatformFeeAmount:    platformFee,
		PlatformFeePercent:   s.cfg.PlatformFeePercent,
		AutoReleaseEnabled:   req.AutoReleaseEnabled,
		AutoReleaseAfterDays: s.cfg.AutoReleaseAfterDays,
		ExpiresAt:            &expiresAt,
		HoldingAccountID:     holding.ID,
		CreatedBy:            req.CreatedBy,
	}
	if err := s.escrowRepo.CreateTx(ctx, tx, escrow); err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	now := time.Now()
	buyerID := req.CreatedBy
	parties := []models.Party{{
		EscrowID:   escrow.ID,
		UserID:     &buyerID,
		Email:      req.CreatorEmail,
		Role:       models.RoleBuyer,
		Accepted:   true,
		AcceptedAt: &now,
	}}
	for _, p := range req.Parties {
		parties = append(parties, models.Party{
			EscrowID: escrow.ID,
			Email:    p.Email,
			Role:     p.Role,
		})
	}
	for i := range parties {
		if err := s.escrowRepo.CreatePartyTx(ctx, tx, &parties[i]); err != nil {
			return nil, fmt.Errorf("create party: %w", err)
		}
	}

	milestones := make([]models.Milestone, 0, len(req.Milestones))
	for i, m := range req.Milestones {
		milestone := models.Milestone{
			EscrowID: escrow.ID,
			Ord:      i + 1,
			Title:    m.Title,
			Amount:   m.Amount,
			Status:   models.MilestoneStatusPending,
		}
		if err := s.escrowRepo.CreateMilestoneTx(ctx, tx, &milestone); err != nil {
			return nil, fmt.Errorf("create milestone: %w", err)
		}
		milestones = append(milestones, milestone)
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: &buyerID,
		ActorType:   "user",
		Action:      "escrow_created",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"total_amount": total.String(), "currency": req.Currency},
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.log.Info("escrow created",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("total_amount", total.String()))

	return &models.EscrowDetail{Escrow: *escrow, Parties: parties, Milestones: milestones}, nil
}

func (s *EscrowService) GetDetail(ctx context.Context, escrowID, userID uuid.UUID) (*models.EscrowDetail, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	parties, err := s.escrowRepo.GetParties(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.CreatedBy != userID && partyByUser(parties, userID) == nil {
		return nil, models.ErrNotParty
	}
	milestones, err := s.escrowRepo.GetMilestones(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return &models.EscrowDetail{Escrow: *escrow, Parties: parties, Milestones: milestones}, nil
}

func (s *EscrowService) ListByUser(ctx context.Context, userID uuid.UUID, status *string, limit, offset int) ([]models.Escrow, error) {
	return s.escrowRepo.ListByUser(ctx, userID, status, limit, offset)
}

func (s *EscrowService) ListDisputes(ctx context.Context, escrowID, userID uuid.UUID) ([]models.Dispute, error) {
	if _, err := s.GetDetail(ctx, escrowID, userID); err != nil {
		return nil, err
	}
	return s.escrowRepo.ListDisputes(ctx, escrowID)
}

func (s *EscrowService) GetDispute(ctx context.Context, escrowID, disputeID, userID uuid.UUID) (*models.Dispute, error) {
	if _, err := s.GetDetail(ctx, escrowID, userID); err != nil {
		return nil, err
	}
	return s.escrowRepo.GetDispute(ctx, escrowID, disputeID)
}

func (s *EscrowService) GetActivity(ctx context.Context, escrowID, userID uuid.UUID, limit, offset int) ([]models.Activity, error) {
	if _, err := s.GetDetail(ctx, escrowID, userID); err != nil {
		return nil, err
	}
	return s.activityRepo.GetByEntity(ctx, "escrow", escrowID, limit, offset)
}

// ---- Lifecycle ----

// Open moves a draft to awaiting_acceptance and invites the pending
// parties. Only the creator can open.
func (s *EscrowService) Open(ctx context.Context, escrowID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if escrow.CreatedBy != userID {
		return models.ErrPermissionDenied
	}
	if err := s.transition(ctx, tx, escrow, models.EscrowStatusAwaitingAcceptance, &userID, "user"); err != nil {
		return err
	}
	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	for _, p := range parties {
		if p.Accepted {
			continue
		}
		s.publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventEscrowInvitation,
			Payload: map[string]any{
				"escrow_id": escrowID.String(),
				"email":     p.Email,
				"role":      p.Role,
			},
		})
	}
	s.publishStatusChanged(ctx, escrow)
	return nil
}

// Accept marks the caller's pending party accepted, matched by email.
// When the last party accepts, the escrow advances to awaiting_funding
// and its milestones open for funding.
func (s *EscrowService) Accept(ctx context.Context, escrowID, userID uuid.UUID, email string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if escrow.Status != models.EscrowStatusAwaitingAcceptance {
		return models.NewInvalidTransition("escrow", escrow.Status, models.EscrowStatusAwaitingFunding)
	}

	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	var target *models.Party
	for i := range parties {
		if parties[i].Email == email {
			target = &parties[i]
			break
		}
	}
	if target == nil {
		return models.ErrNotParty
	}
	if target.Accepted {
		return models.ErrAlreadyAccepted
	}
	if err := s.escrowRepo.AcceptPartyTx(ctx, tx, target.ID, userID); err != nil {
		return err
	}
	target.Accepted = true

	allAccepted := true
	for _, p := range parties {
		if !p.Accepted {
			allAccepted = false
			break
		}
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "escrow_accepted",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        map[string]any{"role": target.Role},
	})

	if allAccepted {
		if err := s.transition(ctx, tx, escrow, models.EscrowStatusAwaitingFunding, &userID, "user"); err != nil {
			return err
		}
		if err := s.escrowRepo.AdvanceMilestonesTx(ctx, tx, escrowID,
			models.MilestoneStatusPending, models.MilestoneStatusAwaitingFunding); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if allAccepted {
		s.publishStatusChanged(ctx, escrow)
	}
	return nil
}

// FundMilestone moves money from the buyer's account into the escrow
// holding account. Partial funding is allowed up to the milestone
// amount; the first fully funded milestone moves the escrow from
// awaiting_funding to funded.
func (s *EscrowService) FundMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, amount decimal.Decimal, fundingAccountID, userID uuid.UUID) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	switch escrow.Status {
	case models.EscrowStatusAwaitingFunding, models.EscrowStatusFunded, models.EscrowStatusInProgress:
	default:
		return models.NewInvalidTransition("escrow", escrow.Status, models.EscrowStatusFunded)
	}

	if err := s.requirePermission(ctx, tx, escrowID, userID, rbac.PermFundMilestone); err != nil {
		return err
	}

	fundingAccount, err := s.accountRepo.GetByID(ctx, fundingAccountID)
	if err != nil {
		return err
	}
	if fundingAccount.UserID != userID {
		return models.ErrPermissionDenied
	}

	milestone, err := s.escrowRepo.GetMilestoneForUpdate(ctx, tx, escrowID, milestoneID)
	if err != nil {
		return err
	}
	switch milestone.Status {
	case models.MilestoneStatusAwaitingFunding:
	default:
		return models.NewInvalidTransition("milestone", milestone.Status, models.MilestoneStatusFunded)
	}
	if milestone.AmountFunded.Add(amount).GreaterThan(milestone.Amount) {
		return models.ErrOverFunding
	}

	if _, err := s.transferSvc.MoveFundsTx(ctx, tx, fundingAccountID, escrow.HoldingAccountID,
		amount, escrow.Currency, models.TransferTypeEscrowFunding,
		fmt.Sprintf("escrow funding: %s", escrow.Title)); err != nil {
		return err
	}

	nowFunded := milestone.AmountFunded.Add(amount).Equal(milestone.Amount)
	if err := s.escrowRepo.AddMilestoneFundingTx(ctx, tx, milestoneID, amount, nowFunded); err != nil {
		return err
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "milestone_funded",
		EntityType:  "milestone",
		EntityID:    &milestoneID,
		Meta:        map[string]any{"amount": amount.String(), "fully_funded": nowFunded},
	})

	if nowFunded && escrow.Status == models.EscrowStatusAwaitingFunding {
		if err := s.transition(ctx, tx, escrow, models.EscrowStatusFunded, &userID, "user"); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if nowFunded {
		s.publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventMilestoneFunded,
			Payload: map[string]any{
				"escrow_id":    escrowID.String(),
				"milestone_id": milestoneID.String(),
				"amount":       milestone.Amount.String(),
			},
		})
	}
	return nil
}

// SubmitDeliverable records the seller's deliverable and moves the
// milestone to under_review. No money moves.
func (s *EscrowService) SubmitDeliverable(ctx context.Context, escrowID, milestoneID uuid.UUID, url string, note *string, userID uuid.UUID) error {
	if url == "" {
		return fmt.Errorf("deliverable url is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	switch escrow.Status {
	case models.EscrowStatusFunded, models.EscrowStatusInProgress:
	default:
		return models.NewInvalidTransition("escrow", escrow.Status, escrow.Status)
	}
	if err := s.requirePermission(ctx, tx, escrowID, userID, rbac.PermSubmitDeliverable); err != nil {
		return err
	}

	milestone, err := s.escrowRepo.GetMilestoneForUpdate(ctx, tx, escrowID, milestoneID)
	if err != nil {
		return err
	}
	if milestone.Status != models.MilestoneStatusFunded {
		return models.NewInvalidTransition("milestone", milestone.Status, models.MilestoneStatusUnderReview)
	}
	if err := s.escrowRepo.SetDeliverableTx(ctx, tx, milestoneID, url, note); err != nil {
		return err
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "deliverable_submitted",
		EntityType:  "milestone",
		EntityID:    &milestoneID,
		Meta:        map[string]any{"url": url},
	})

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventMilestoneSubmitted,
		Payload: map[string]any{
			"escrow_id":    escrowID.String(),
			"milestone_id": milestoneID.String(),
		},
	})
	return nil
}

// ReleaseMilestone pays the seller the milestone amount out of the
// holding account. Releasing the last milestone completes the escrow.
func (s *EscrowService) ReleaseMilestone(ctx context.Context, escrowID, milestoneID, userID uuid.UUID) error {
	return s.release(ctx, escrowID, milestoneID, &userID, "user")
}

func (s *EscrowService) release(ctx context.Context, escrowID, milestoneID uuid.UUID, actorID *uuid.UUID, actorType string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	switch escrow.Status {
	case models.EscrowStatusFunded, models.EscrowStatusInProgress:
	default:
		return models.NewInvalidTransition("escrow", escrow.Status, models.EscrowStatusInProgress)
	}

	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if actorID != nil && actorType == "user" {
		party := partyByUser(parties, *actorID)
		if party == nil {
			return models.ErrNotParty
		}
		if !rbac.HasPermission(party.Role, rbac.PermReleaseMilestone) {
			return models.ErrPermissionDenied
		}
	}

	milestone, err := s.escrowRepo.GetMilestoneForUpdate(ctx, tx, escrowID, milestoneID)
	if err != nil {
		return err
	}
	switch milestone.Status {
	case models.MilestoneStatusFunded, models.MilestoneStatusUnderReview:
	default:
		return models.NewInvalidTransition("milestone", milestone.Status, models.MilestoneStatusReleased)
	}

	sellerAccount, err := s.sellerAccount(ctx, parties, escrow.Currency)
	if err != nil {
		return err
	}

	if _, err := s.transferSvc.MoveFundsTx(ctx, tx, escrow.HoldingAccountID, sellerAccount.ID,
		milestone.Amount, escrow.Currency, models.TransferTypeEscrowRelease,
		fmt.Sprintf("escrow release: %s", milestone.Title)); err != nil {
		return err
	}
	if err := s.escrowRepo.MarkMilestoneReleasedTx(ctx, tx, milestoneID); err != nil {
		return err
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "milestone_released",
		EntityType:  "milestone",
		EntityID:    &milestoneID,
		Meta:        map[string]any{"amount": milestone.Amount.String()},
	})

	if escrow.Status == models.EscrowStatusFunded {
		if err := s.transition(ctx, tx, escrow, models.EscrowStatusInProgress, actorID, actorType); err != nil {
			return err
		}
	}

	milestones, err := s.escrowRepo.GetMilestonesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	allReleased := true
	for _, m := range milestones {
		if m.ID == milestoneID {
			continue
		}
		if m.Status != models.MilestoneStatusReleased {
			allReleased = false
			break
		}
	}
	if allReleased {
		if err := s.transition(ctx, tx, escrow, models.EscrowStatusCompleted, actorID, actorType); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventMilestoneReleased,
		Payload: map[string]any{
			"escrow_id":    escrowID.String(),
			"milestone_id": milestoneID.String(),
			"amount":       milestone.Amount.String(),
		},
	})
	if escrow.Status == models.EscrowStatusCompleted || escrow.Status == models.EscrowStatusInProgress {
		s.publishStatusChanged(ctx, escrow)
	}
	return nil
}

// RaiseDispute opens a dispute and freezes the escrow in disputed. Only
// one open dispute may exist at a time.
func (s *EscrowService) RaiseDispute(ctx context.Context, escrowID uuid.UUID, milestoneID *uuid.UUID, reason string, description *string, evidenceURLs []string, userID uuid.UUID) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("dispute reason is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidEscrowTransition(escrow.Status, models.EscrowStatusDisputed) {
		return nil, models.NewInvalidTransition("escrow", escrow.Status, models.EscrowStatusDisputed)
	}

	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return nil, err
	}
	party := partyByUser(parties, userID)
	if party == nil {
		return nil, models.ErrNotParty
	}
	if !rbac.HasPermission(party.Role, rbac.PermRaiseDispute) {
		return nil, models.ErrPermissionDenied
	}

	if existing, err := s.escrowRepo.GetOpenDisputeTx(ctx, tx, escrowID); err == nil && existing != nil {
		return nil, models.ErrDisputeAlreadyOpen
	} else if err != nil && !errors.Is(err, models.ErrDisputeNotFound) {
		return nil, err
	}

	if milestoneID != nil {
		milestone, err := s.escrowRepo.GetMilestoneForUpdate(ctx, tx, escrowID, *milestoneID)
		if err != nil {
			return nil, err
		}
		if !models.IsValidMilestoneTransition(milestone.Status, models.MilestoneStatusDisputed) {
			return nil, models.NewInvalidTransition("milestone", milestone.Status, models.MilestoneStatusDisputed)
		}
		if err := s.escrowRepo.UpdateMilestoneStatusTx(ctx, tx, *milestoneID, models.MilestoneStatusDisputed); err != nil {
			return nil, err
		}
	}

	dispute := &models.Dispute{
		EscrowID:       escrowID,
		MilestoneID:    milestoneID,
		RaisedByUserID: userID,
		RaisedByRole:   party.Role,
		Reason:         reason,
		Description:    description,
		EvidenceURLs:   evidenceURLs,
		Status:         models.DisputeStatusOpen,
		RespondBy:      time.Now().AddDate(0, 0, s.cfg.DisputeResponseDays),
	}
	if err := s.escrowRepo.CreateDisputeTx(ctx, tx, dispute); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, tx, escrow, models.EscrowStatusDisputed, &userID, "user"); err != nil {
		return nil, err
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "dispute_raised",
		EntityType:  "dispute",
		EntityID:    &dispute.ID,
		Meta:        map[string]any{"reason": reason, "role": party.Role},
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventDisputeRaised,
		Payload: map[string]any{
			"escrow_id":  escrowID.String(),
			"dispute_id": dispute.ID.String(),
			"reason":     reason,
		},
	})
	s.publishStatusChanged(ctx, escrow)
	return dispute, nil
}

// ResolveDispute closes the open dispute and moves the held funds in
// the same transaction: full refund to the buyer, full release to the
// seller, or a custom split of both with the escrow returning to
// in_progress. Mediators resolve; a platform admin is the fallback for
// escrows created without one.
func (s *EscrowService) ResolveDispute(ctx context.Context, escrowID, disputeID uuid.UUID, resolution string, refundAmount, releaseAmount *decimal.Decimal, userID uuid.UUID, admin bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if escrow.Status != models.EscrowStatusDisputed {
		return models.NewInvalidTransition("escrow", escrow.Status, models.EscrowStatusInProgress)
	}

	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if err := canResolveDispute(partyByUser(parties, userID), admin); err != nil {
		return err
	}

	dispute, err := s.escrowRepo.GetOpenDisputeTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if dispute.ID != disputeID {
		return models.ErrDisputeNotFound
	}

	holding, err := s.accountRepo.GetForUpdate(ctx, tx, escrow.HoldingAccountID)
	if err != nil {
		return err
	}
	buyerAccount, err := s.buyerAccount(ctx, parties, escrow.Currency)
	if err != nil {
		return err
	}

	var toStatus string
	switch resolution {
	case models.ResolutionRefundBuyer:
		if holding.Balance.IsPositive() {
			if _, err := s.transferSvc.MoveFundsTx(ctx, tx, holding.ID, buyerAccount.ID,
				holding.Balance, escrow.Currency, models.TransferTypeEscrowRefund,
				fmt.Sprintf("dispute refund: %s", escrow.Title)); err != nil {
				return err
			}
		}
		if err := s.cancelPendingMilestones(ctx, tx, escrowID); err != nil {
			return err
		}
		for _, from := range []string{models.MilestoneStatusFunded, models.MilestoneStatusUnderReview, models.MilestoneStatusDisputed} {
			if err := s.escrowRepo.AdvanceMilestonesTx(ctx, tx, escrowID, from, models.MilestoneStatusCancelled); err != nil {
				return err
			}
		}
		toStatus = models.EscrowStatusRefunded

	case models.ResolutionReleaseSeller:
		sellerAccount, err := s.sellerAccount(ctx, parties, escrow.Currency)
		if err != nil {
			return err
		}
		if holding.Balance.IsPositive() {
			if _, err := s.transferSvc.MoveFundsTx(ctx, tx, holding.ID, sellerAccount.ID,
				holding.Balance, escrow.Currency, models.TransferTypeEscrowRelease,
				fmt.Sprintf("dispute release: %s", escrow.Title)); err != nil {
				return err
			}
		}
		if err := s.cancelPendingMilestones(ctx, tx, escrowID); err != nil {
			return err
		}
		for _, from := range []string{models.MilestoneStatusFunded, models.MilestoneStatusUnderReview, models.MilestoneStatusDisputed} {
			if err := s.escrowRepo.AdvanceMilestonesTx(ctx, tx, escrowID, from, models.MilestoneStatusReleased); err != nil {
				return err
			}
		}
		toStatus = models.EscrowStatusCompleted

	case models.ResolutionCustomSplit:
		if err := validateSplitAmounts(refundAmount, releaseAmount, holding.Balance); err != nil {
			return err
		}
		sellerAccount, err := s.sellerAccount(ctx, parties, escrow.Currency)
		if err != nil {
			return err
		}
		if refundAmount.IsPositive() {
			if _, err := s.transferSvc.MoveFundsTx(ctx, tx, holding.ID, buyerAccount.ID,
				*refundAmount, escrow.Currency, models.TransferTypeEscrowRefund,
				fmt.Sprintf("dispute split refund: %s", escrow.Title)); err != nil {
				return err
			}
		}
		if releaseAmount.IsPositive() {
			if _, err := s.transferSvc.MoveFundsTx(ctx, tx, holding.ID, sellerAccount.ID,
				*releaseAmount, escrow.Currency, models.TransferTypeEscrowRelease,
				fmt.Sprintf("dispute split release: %s", escrow.Title)); err != nil {
				return err
			}
		}
		if dispute.MilestoneID != nil {
			milestone, err := s.escrowRepo.GetMilestoneForUpdate(ctx, tx, escrowID, *dispute.MilestoneID)
			if err != nil {
				return err
			}
			back := models.MilestoneStatusAwaitingFunding
			if milestone.IsFunded() {
				back = models.MilestoneStatusFunded
			}
			if err := s.escrowRepo.UpdateMilestoneStatusTx(ctx, tx, milestone.ID, back); err != nil {
				return err
			}
		}
		toStatus = models.EscrowStatusInProgress

	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	if err := s.escrowRepo.ResolveDisputeTx(ctx, tx, disputeID, resolution, refundAmount, releaseAmount, userID); err != nil {
		return err
	}
	if err := s.transition(ctx, tx, escrow, toStatus, &userID, "user"); err != nil {
		return err
	}

	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "dispute_resolved",
		EntityType:  "dispute",
		EntityID:    &disputeID,
		Meta:        map[string]any{"resolution": resolution},
	})

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventDisputeResolved,
		Payload: map[string]any{
			"escrow_id":  escrowID.String(),
			"dispute_id": disputeID.String(),
			"resolution": resolution,
		},
	})
	s.publishStatusChanged(ctx, escrow)
	return nil
}

// Cancel cancels the escrow and refunds any held funds to the buyer.
// Legal from every non-terminal, non-disputed state.
func (s *EscrowService) Cancel(ctx context.Context, escrowID, userID uuid.UUID, reason *string) error {
	return s.cancel(ctx, escrowID, &userID, "user", reason)
}

func (s *EscrowService) cancel(ctx context.Context, escrowID uuid.UUID, actorID *uuid.UUID, actorType string, reason *string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if !models.IsValidEscrowTransition(escrow.Status, models.EscrowStatusCancelled) {
		return models.NewInvalidTransition("escrow", escrow.Status, models.EscrowStatusCancelled)
	}

	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if actorID != nil && actorType == "user" {
		party := partyByUser(parties, *actorID)
		if party == nil && escrow.CreatedBy != *actorID {
			return models.ErrNotParty
		}
		if party != nil && !rbac.HasPermission(party.Role, rbac.PermCancelEscrow) {
			return models.ErrPermissionDenied
		}
	}

	holding, err := s.accountRepo.GetForUpdate(ctx, tx, escrow.HoldingAccountID)
	if err != nil {
		return err
	}
	if holding.Balance.IsPositive() {
		buyerAccount, err := s.buyerAccount(ctx, parties, escrow.Currency)
		if err != nil {
			return err
		}
		if _, err := s.transferSvc.MoveFundsTx(ctx, tx, holding.ID, buyerAccount.ID,
			holding.Balance, escrow.Currency, models.TransferTypeEscrowRefund,
			fmt.Sprintf("escrow cancelled: %s", escrow.Title)); err != nil {
			return err
		}
	}

	if err := s.cancelPendingMilestones(ctx, tx, escrowID); err != nil {
		return err
	}
	for _, from := range []string{models.MilestoneStatusFunded, models.MilestoneStatusUnderReview} {
		if err := s.escrowRepo.AdvanceMilestonesTx(ctx, tx, escrowID, from, models.MilestoneStatusCancelled); err != nil {
			return err
		}
	}
	if err := s.transition(ctx, tx, escrow, models.EscrowStatusCancelled, actorID, actorType); err != nil {
		return err
	}

	meta := map[string]any{}
	if reason != nil {
		meta["reason"] = *reason
	}
	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "escrow_cancelled",
		EntityType:  "escrow",
		EntityID:    &escrowID,
		Meta:        meta,
	})

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	s.publishStatusChanged(ctx, escrow)
	return nil
}

// ---- Worker entry points ----

// AutoReleaseDue releases every under_review milestone whose review
// window has elapsed on an auto-release escrow. Returns the number of
// milestones released.
func (s *EscrowService) AutoReleaseDue(ctx context.Context, limit int) int {
	candidates, err := s.escrowRepo.ListAutoReleasable(ctx, limit)
	if err != nil {
		s.log.Error("failed to list auto-releasable milestones", zap.Error(err))
		return 0
	}

	released := 0
	for _, c := range candidates {
		if err := s.release(ctx, c.EscrowID, c.MilestoneID, nil, "system"); err != nil {
			s.log.Warn("auto-release failed",
				zap.String("escrow_id", c.EscrowID.String()),
				zap.String("milestone_id", c.MilestoneID.String()),
				zap.Error(err))
			continue
		}
		released++
	}
	return released
}

// ExpireStale cancels escrows that passed their expiry without reaching
// a funded state. Held partial funds go back to the buyer.
func (s *EscrowService) ExpireStale(ctx context.Context, limit int) int {
	expired, err := s.escrowRepo.ListExpired(ctx, limit)
	if err != nil {
		s.log.Error("failed to list expired escrows", zap.Error(err))
		return 0
	}

	reason := "expired"
	cancelled := 0
	for _, e := range expired {
		if err := s.cancel(ctx, e.ID, nil, "system", &reason); err != nil {
			s.log.Warn("expiry cancellation failed",
				zap.String("escrow_id", e.ID.String()), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled
}

// NotifyOverdueDisputes emits reminder events for open disputes past
// their response deadline.
func (s *EscrowService) NotifyOverdueDisputes(ctx context.Context, limit int) int {
	overdue, err := s.escrowRepo.ListOverdueDisputes(ctx, limit)
	if err != nil {
		s.log.Error("failed to list overdue disputes", zap.Error(err))
		return 0
	}
	for _, d := range overdue {
		s.publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventDisputeOverdue,
			Payload: map[string]any{
				"escrow_id":  d.EscrowID.String(),
				"dispute_id": d.ID.String(),
				"respond_by": d.RespondBy.Format(time.RFC3339),
			},
		})
	}
	return len(overdue)
}

// ---- Internals ----

// transition validates and persists an escrow status change with its
// activity entry, mutating escrow.Status on success.
func (s *EscrowService) transition(ctx context.Context, tx pgx.Tx, escrow *models.Escrow, to string, actorID *uuid.UUID, actorType string) error {
	if !models.IsValidEscrowTransition(escrow.Status, to) {
		return models.NewInvalidTransition("escrow", escrow.Status, to)
	}
	if err := s.escrowRepo.UpdateStatusTx(ctx, tx, escrow.ID, to); err != nil {
		return err
	}
	_ = s.activityRepo.LogTx(ctx, tx, models.Activity{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "escrow_status_changed",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"from": escrow.Status, "to": to},
	})
	escrow.Status = to
	return nil
}

func (s *EscrowService) requirePermission(ctx context.Context, tx pgx.Tx, escrowID, userID uuid.UUID, permission string) error {
	parties, err := s.escrowRepo.GetPartiesTx(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	party := partyByUser(parties, userID)
	if party == nil {
		return models.ErrNotParty
	}
	if !rbac.HasPermission(party.Role, permission) {
		return models.ErrPermissionDenied
	}
	// A party that has not accepted yet must not move funds.
	if rbac.IsMoneyMoving(permission) && !party.Accepted {
		return models.ErrPermissionDenied
	}
	return nil
}

// canResolveDispute decides who may close a dispute. Mediators resolve
// normally; platform admins step in when the escrow has no mediator.
func canResolveDispute(party *models.Party, admin bool) error {
	if admin {
		return nil
	}
	if party == nil {
		return models.ErrNotParty
	}
	if !rbac.HasPermission(party.Role, rbac.PermResolveDispute) {
		return models.ErrPermissionDenied
	}
	return nil
}

// validateSplitAmounts checks a custom-split resolution against the
// funds still held on the escrow account.
func validateSplitAmounts(refund, release *decimal.Decimal, held decimal.Decimal) error {
	if refund == nil || release == nil {
		return fmt.Errorf("custom split requires both refund and release amounts: %w", models.ErrInvalidAmount)
	}
	if refund.IsNegative() || release.IsNegative() {
		return models.ErrInvalidAmount
	}
	if refund.Add(*release).GreaterThan(held) {
		return models.ErrInsufficientFunds
	}
	return nil
}

func (s *EscrowService) cancelPendingMilestones(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) error {
	for _, from := range []string{models.MilestoneStatusPending, models.MilestoneStatusAwaitingFunding} {
		if err := s.escrowRepo.AdvanceMilestonesTx(ctx, tx, escrowID, from, models.MilestoneStatusCancelled); err != nil {
			return err
		}
	}
	return nil
}

func (s *EscrowService) sellerAccount(ctx context.Context, parties []models.Party, currency string) (*models.Account, error) {
	return s.partyAccount(ctx, parties, models.RoleSeller, currency)
}

func (s *EscrowService) buyerAccount(ctx context.Context, parties []models.Party, currency string) (*models.Account, error) {
	return s.partyAccount(ctx, parties, models.RoleBuyer, currency)
}

func (s *EscrowService) partyAccount(ctx context.Context, parties []models.Party, role, currency string) (*models.Account, error) {
	party := partyByRole(parties, role)
	if party == nil || party.UserID == nil {
		return nil, models.ErrNotParty
	}
	account, err := s.accountRepo.GetByUserAndCurrency(ctx, *party.UserID, currency)
	if err != nil {
		return nil, fmt.Errorf("%s has no %s account: %w", role, currency, err)
	}
	return account, nil
}

func partyByUser(parties []models.Party, userID uuid.UUID) *models.Party {
	for i := range parties {
		if parties[i].UserID != nil && *parties[i].UserID == userID {
			return &parties[i]
		}
	}
	return nil
}

func partyByRole(parties []models.Party, role string) *models.Party {
	for i := range parties {
		if parties[i].Role == role {
			return &parties[i]
		}
	}
	return nil
}

func (s *EscrowService) publish(ctx context.Context, stream string, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, stream, event); err != nil {
		s.log.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

func (s *EscrowService) publishStatusChanged(ctx context.Context, escrow *models.Escrow) {
	s.publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id": escrow.ID.String(),
			"status":    escrow.Status,
		},
	})
}

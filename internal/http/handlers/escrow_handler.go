package handlers

import (
	"github.com/escrowline/backend/internal/http/dto"
	"github.com/escrowline/backend/internal/middleware"
	"github.com/escrowline/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	milestones := make([]services.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		amount, err := decimal.NewFromString(m.Amount)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone amount"})
		}
		milestones = append(milestones, services.MilestoneInput{Title: m.Title, Amount: amount})
	}
	parties := make([]services.PartyInput, 0, len(req.Parties))
	for _, p := range req.Parties {
		parties = append(parties, services.PartyInput{Email: p.Email, Role: p.Role})
	}

	detail, err := h.escrowService.Create(c.Context(), services.CreateEscrowRequest{
		Title:              req.Title,
		Description:        req.Description,
		Currency:           req.Currency,
		Milestones:         milestones,
		Parties:            parties,
		AutoReleaseEnabled: req.AutoReleaseEnabled,
		CreatedBy:          middleware.GetUserID(c),
		CreatorEmail:       middleware.GetUserEmail(c),
	})
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: detail})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	detail, err := h.escrowService.GetDetail(c.Context(), escrowID, middleware.GetUserID(c))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: detail})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}
	escrows, err := h.escrowService.ListByUser(c.Context(), middleware.GetUserID(c), status, limit, offset)
	if err != nil {
		h.log.Error("list escrows failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrows})
}

func (h *EscrowHandler) OpenEscrow(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	if err := h.escrowService.Open(c.Context(), escrowID, middleware.GetUserID(c)); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) AcceptEscrow(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	if err := h.escrowService.Accept(c.Context(), escrowID, middleware.GetUserID(c), middleware.GetUserEmail(c)); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) FundMilestone(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	milestoneID, ok := parseID(c, "milestoneId", "invalid milestone id")
	if !ok {
		return nil
	}

	var req dto.FundMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}
	fundingAccountID, err := uuid.Parse(req.FundingAccountID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid funding_account_id"})
	}

	if err := h.escrowService.FundMilestone(c.Context(), escrowID, milestoneID, amount, fundingAccountID, middleware.GetUserID(c)); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) SubmitDeliverable(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	milestoneID, ok := parseID(c, "milestoneId", "invalid milestone id")
	if !ok {
		return nil
	}

	var req dto.SubmitDeliverableRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.escrowService.SubmitDeliverable(c.Context(), escrowID, milestoneID, req.URL, req.Note, middleware.GetUserID(c)); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) ReleaseMilestone(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	milestoneID, ok := parseID(c, "milestoneId", "invalid milestone id")
	if !ok {
		return nil
	}
	if err := h.escrowService.ReleaseMilestone(c.Context(), escrowID, milestoneID, middleware.GetUserID(c)); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) RaiseDispute(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}

	var req dto.RaiseDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	var milestoneID *uuid.UUID
	if req.MilestoneID != nil {
		id, err := uuid.Parse(*req.MilestoneID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone_id"})
		}
		milestoneID = &id
	}

	dispute, err := h.escrowService.RaiseDispute(c.Context(), escrowID, milestoneID,
		req.Reason, req.Description, req.EvidenceURLs, middleware.GetUserID(c))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	disputeID, ok := parseID(c, "disputeId", "invalid dispute id")
	if !ok {
		return nil
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	var refund, release *decimal.Decimal
	if req.RefundAmount != nil {
		v, err := decimal.NewFromString(*req.RefundAmount)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid refund_amount"})
		}
		refund = &v
	}
	if req.ReleaseAmount != nil {
		v, err := decimal.NewFromString(*req.ReleaseAmount)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid release_amount"})
		}
		release = &v
	}

	if err := h.escrowService.ResolveDispute(c.Context(), escrowID, disputeID, req.Resolution, refund, release, middleware.GetUserID(c), middleware.IsAdmin(c)); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EscrowHandler) ListDisputes(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	disputes, err := h.escrowService.ListDisputes(c.Context(), escrowID, middleware.GetUserID(c))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: disputes})
}

func (h *EscrowHandler) GetDispute(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	disputeID, ok := parseID(c, "disputeId", "invalid dispute id")
	if !ok {
		return nil
	}
	dispute, err := h.escrowService.GetDispute(c.Context(), escrowID, disputeID, middleware.GetUserID(c))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *EscrowHandler) GetActivity(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	limit, offset := pagination(c)
	entries, err := h.escrowService.GetActivity(c.Context(), escrowID, middleware.GetUserID(c), limit, offset)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *EscrowHandler) CancelEscrow(c *fiber.Ctx) error {
	escrowID, ok := parseID(c, "id", "invalid escrow id")
	if !ok {
		return nil
	}
	var req dto.CancelEscrowRequest
	_ = c.BodyParser(&req) // body is optional
	if err := h.escrowService.Cancel(c.Context(), escrowID, middleware.GetUserID(c), req.Reason); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// parseID parses a UUID path parameter, writing the error response when
// it is malformed.
func parseID(c *fiber.Ctx, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
		return uuid.Nil, false
	}
	return id, true
}

package handlers

import (
	"github.com/escrowline/backend/internal/http/dto"
	"github.com/escrowline/backend/internal/middleware"
	"github.com/escrowline/backend/internal/repositories"
	"github.com/escrowline/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TransferHandler struct {
	transferService *services.TransferService
	log             *zap.Logger
}

func NewTransferHandler(transferService *services.TransferService, log *zap.Logger) *TransferHandler {
	return &TransferHandler{transferService: transferService, log: log}
}

func (h *TransferHandler) ExecuteTransfer(c *fiber.Ctx) error {
	var req dto.ExecuteTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid from_account_id"})
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid to_account_id"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}

	userID := middleware.GetUserID(c)

	// The source account must belong to the caller.
	source, err := h.transferService.GetAccount(c.Context(), fromID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	if source.UserID != userID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your account"})
	}

	transfer, err := h.transferService.ExecuteTransfer(c.Context(), services.TransferRequest{
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		UserTier:       middleware.GetFeeTier(c),
		ActorUserID:    &userID,
	})
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: transfer})
}

func (h *TransferHandler) GetTransfer(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transfer id"})
	}

	transfer, err := h.transferService.GetTransfer(c.Context(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: transfer})
}

func (h *TransferHandler) ListTransfers(c *fiber.Ctx) error {
	filter := repositories.TransferFilter{}
	filter.Limit, filter.Offset = pagination(c)

	if v := c.Query("account_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account_id"})
		}
		account, err := h.transferService.GetAccount(c.Context(), id)
		if err != nil {
			return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		if account.UserID != middleware.GetUserID(c) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your account"})
		}
		filter.AccountID = &id
	} else {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "account_id is required"})
	}

	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("type"); v != "" {
		filter.Type = &v
	}

	transfers, err := h.transferService.ListTransfers(c.Context(), filter)
	if err != nil {
		h.log.Error("list transfers failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: transfers})
}

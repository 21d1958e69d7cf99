package handlers

import (
	"strconv"

	"github.com/escrowline/backend/internal/http/dto"
	"github.com/escrowline/backend/internal/middleware"
	"github.com/escrowline/backend/internal/models"
	"github.com/escrowline/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AccountHandler struct {
	transferService *services.TransferService
	log             *zap.Logger
}

func NewAccountHandler(transferService *services.TransferService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{transferService: transferService, log: log}
}

func (h *AccountHandler) CreateAccount(c *fiber.Ctx) error {
	var req dto.CreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	userID := middleware.GetUserID(c)
	account, err := h.transferService.CreateAccount(c.Context(), userID, req.Currency)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: account})
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	accounts, err := h.transferService.ListAccounts(c.Context(), userID)
	if err != nil {
		h.log.Error("list accounts failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: accounts})
}

func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	account, ok := h.ownedAccount(c)
	if !ok {
		return nil
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: account})
}

func (h *AccountHandler) GetBalance(c *fiber.Ctx) error {
	account, ok := h.ownedAccount(c)
	if !ok {
		return nil
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.BalanceResponse{
		AccountID: account.ID.String(),
		Balance:   account.Balance.String(),
		Currency:  account.Currency,
	}})
}

func (h *AccountHandler) ListLedgerEntries(c *fiber.Ctx) error {
	account, ok := h.ownedAccount(c)
	if !ok {
		return nil
	}

	limit, offset := pagination(c)
	entries, err := h.transferService.ListLedgerEntries(c.Context(), account.ID, limit, offset)
	if err != nil {
		h.log.Error("list ledger entries failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// ownedAccount loads the :id account and enforces that it belongs to
// the caller. On failure the error response is already written and ok
// is false.
func (h *AccountHandler) ownedAccount(c *fiber.Ctx) (*models.Account, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid account id"})
		return nil, false
	}

	account, err := h.transferService.GetAccount(c.Context(), id)
	if err != nil {
		_ = c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
		return nil, false
	}
	if account.UserID != middleware.GetUserID(c) {
		_ = c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your account"})
		return nil, false
	}
	return account, true
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit, offset = 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

package handlers

import (
	"github.com/escrowline/backend/internal/http/dto"
	"github.com/escrowline/backend/internal/middleware"
	"github.com/escrowline/backend/internal/models"
	"github.com/escrowline/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type FeeHandler struct {
	feeService *services.FeeService
	log        *zap.Logger
}

func NewFeeHandler(feeService *services.FeeService, log *zap.Logger) *FeeHandler {
	return &FeeHandler{feeService: feeService, log: log}
}

func (h *FeeHandler) CalculateFees(c *fiber.Ctx) error {
	var req dto.CalculateFeesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}

	result, err := h.feeService.Calculate(c.Context(), services.FeeCalcRequest{
		Amount:          amount,
		Currency:        req.Currency,
		TransactionType: req.TransactionType,
		FromCountry:     req.FromCountry,
		ToCountry:       req.ToCountry,
		UserTier:        middleware.GetFeeTier(c),
	})
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *FeeHandler) CreateRule(c *fiber.Ctx) error {
	rule, ok := h.ruleFromBody(c)
	if !ok {
		return nil
	}
	if err := h.feeService.CreateRule(c.Context(), rule); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: rule})
}

func (h *FeeHandler) UpdateRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid rule id"})
	}
	rule, ok := h.ruleFromBody(c)
	if !ok {
		return nil
	}
	rule.ID = id
	if err := h.feeService.UpdateRule(c.Context(), rule); err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rule})
}

func (h *FeeHandler) GetRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid rule id"})
	}
	rule, err := h.feeService.GetRule(c.Context(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rule})
}

func (h *FeeHandler) ListRules(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	rules, err := h.feeService.ListRules(c.Context(), limit, offset)
	if err != nil {
		h.log.Error("list fee rules failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rules})
}

func (h *FeeHandler) ruleFromBody(c *fiber.Ctx) (*models.FeeRule, bool) {
	var req dto.FeeRuleRequest
	if err := c.BodyParser(&req); err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
		return nil, false
	}

	fixed, err := decimal.NewFromString(req.FixedAmount)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid fixed_amount"})
		return nil, false
	}
	percent, err := decimal.NewFromString(req.Percent)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid percent"})
		return nil, false
	}
	minAmount := decimal.Zero
	if req.MinAmount != "" {
		if minAmount, err = decimal.NewFromString(req.MinAmount); err != nil {
			_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid min_amount"})
			return nil, false
		}
	}
	var maxFee *decimal.Decimal
	if req.MaxFee != nil {
		v, err := decimal.NewFromString(*req.MaxFee)
		if err != nil {
			_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid max_fee"})
			return nil, false
		}
		maxFee = &v
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	return &models.FeeRule{
		Name:            req.Name,
		Currency:        req.Currency,
		TransactionType: req.TransactionType,
		Country:         req.Country,
		FixedAmount:     fixed,
		Percent:         percent,
		MinAmount:       minAmount,
		MaxFee:          maxFee,
		Active:          active,
	}, true
}

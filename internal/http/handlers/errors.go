package handlers

import (
	"errors"

	"github.com/escrowline/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

// statusFor maps engine errors to HTTP status codes so callers can
// branch on the outcome without parsing messages.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrEscrowNotFound),
		errors.Is(err, models.ErrMilestoneNotFound),
		errors.Is(err, models.ErrDisputeNotFound),
		errors.Is(err, models.ErrRuleNotFound),
		errors.Is(err, models.ErrTransferNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrNotParty),
		errors.Is(err, models.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrDailyLimitExceeded),
		errors.Is(err, models.ErrMonthlyLimitExceeded),
		errors.Is(err, models.ErrOverFunding),
		errors.Is(err, models.ErrDisputeAlreadyOpen),
		errors.Is(err, models.ErrAlreadyAccepted):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		var transitionErr *models.InvalidTransitionError
		if errors.As(err, &transitionErr) {
			return fiber.StatusConflict
		}
		return fiber.StatusBadRequest
	}
}

package middleware

import (
	"strings"

	"github.com/escrowline/backend/internal/auth"
	"github.com/escrowline/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CtxUserID      = "user_id"
	CtxUserEmail   = "user_email"
	CtxKYCVerified = "kyc_verified"
	CtxFeeTier     = "fee_tier"
	CtxAdmin       = "admin"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxUserEmail, claims.Email)
		c.Locals(CtxKYCVerified, claims.KYCVerified)
		c.Locals(CtxFeeTier, claims.FeeTier)
		c.Locals(CtxAdmin, claims.Admin)

		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetUserEmail(c *fiber.Ctx) string {
	email, _ := c.Locals(CtxUserEmail).(string)
	return email
}

func GetFeeTier(c *fiber.Ctx) string {
	tier, _ := c.Locals(CtxFeeTier).(string)
	return tier
}

func IsKYCVerified(c *fiber.Ctx) bool {
	v, _ := c.Locals(CtxKYCVerified).(bool)
	return v
}

func IsAdmin(c *fiber.Ctx) bool {
	v, _ := c.Locals(CtxAdmin).(bool)
	return v
}

// RequireKYC gates money-moving endpoints on a verified identity.
func RequireKYC() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsKYCVerified(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "kyc verification required"})
		}
		return c.Next()
	}
}

// RequireAdmin gates fee rule management.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}

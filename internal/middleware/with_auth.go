package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// RequireUser rejects requests that did not authenticate a user id.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := UserID(c); !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id bound by JWTProtected.
func UserID(c *fiber.Ctx) (uint, bool) {
	switch v := c.Locals("user_id").(type) {
	case uint:
		return v, v != 0
	case int:
		if v > 0 {
			return uint(v), true
		}
	}
	return 0, false
}

// UserRole returns the normalised role bound by JWTProtected.
func UserRole(c *fiber.Ctx) string {
	return normalizeRoleValue(c.Locals("user_role"))
}

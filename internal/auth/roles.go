package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// RequireAdmin ensures an administrator principal is attached to the request.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewForbidden("administrator required")
		}
		return c.Next()
	}
}

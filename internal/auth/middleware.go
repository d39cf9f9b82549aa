package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AdminChecker reports whether an identity is in the administrator set.
type AdminChecker func(id int64) bool

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenManager
	isAdmin AdminChecker
}

// NewAuthMiddleware constructs middleware. Tokens of identities no longer
// in the administrator set are refused.
func NewAuthMiddleware(tokens *TokenManager, isAdmin AdminChecker) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, isAdmin: isAdmin}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if m.isAdmin == nil || !m.isAdmin(claims.AdminID) {
		return apperrors.NewUnauthorized("administrator not recognized")
	}

	principal := claims.Principal()
	c.Locals(principalKey, &principal)
	return c.Next()
}

// Disabled refuses every request. It stands in for the middleware while the
// admin API has no password configured.
func Disabled() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return apperrors.NewUnauthorized("admin API disabled")
	}
}

// PrincipalFromContext retrieves the authenticated administrator.
func PrincipalFromContext(c *fiber.Ctx) (*domain.AdminPrincipal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*domain.AdminPrincipal)
	return principal, ok
}

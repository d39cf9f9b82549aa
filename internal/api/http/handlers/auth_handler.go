package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-intake-bot/internal/api/dto"
	"github.com/spec-kit/crm-intake-bot/internal/service"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// AuthHandler exposes the administrator login endpoint.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AdminID == 0 || req.Password == "" {
		return apperrors.NewValidationError("admin_id and password required", nil)
	}

	principal, token, err := h.auth.LoginAdmin(c.UserContext(), req.AdminID, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"admin": fiber.Map{
				"id":   principal.AdminID,
				"name": principal.Name,
			},
			"auth": dto.AuthResponse{Token: token, ExpiresAt: principal.ExpiresAt},
		},
	})
}

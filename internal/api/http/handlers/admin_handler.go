package handlers

import (
	"bytes"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-intake-bot/internal/api/dto"
	"github.com/spec-kit/crm-intake-bot/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler exposes the administrator panel over HTTP.
type AdminHandler struct {
	admin *service.AdminService
	now   func() time.Time
}

// NewAdminHandler constructs handler.
func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: adminService, now: time.Now}
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.admin.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

// Users handles GET /admin/users.
func (h *AdminHandler) Users(c *fiber.Ctx) error {
	users, err := h.admin.Users(c.UserContext())
	if err != nil {
		return err
	}
	resp := make([]dto.UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, dto.UserResponse{
			UserID:       u.UserID,
			Name:         u.Name,
			Module:       u.Module,
			RegisteredAt: u.RegisteredAt,
		})
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Export handles GET /admin/export.
func (h *AdminHandler) Export(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := h.admin.Export(c.UserContext(), &buf); err != nil {
		return err
	}
	c.Attachment(h.now().Format(service.ExportFileNameLayout))
	c.Set(fiber.HeaderContentType, xlsxContentType)
	return c.Send(buf.Bytes())
}

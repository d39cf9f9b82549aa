package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-intake-bot/internal/api/dto"
	"github.com/spec-kit/crm-intake-bot/internal/auth"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/service"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// TicketsHandler exposes ticket lookup and claiming to administrators.
type TicketsHandler struct {
	tickets *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{tickets: ticketService}
}

// GetTicket handles GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ClaimTicket handles POST /tickets/:id/claim on behalf of the caller.
func (h *TicketsHandler) ClaimTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("administrator required")
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}

	result, err := h.tickets.ClaimTicket(c.UserContext(), id, principal.Claimant())
	if err != nil {
		return err
	}

	switch result.Outcome {
	case service.ClaimConfirmed:
		resp := ticketResponse(result.Ticket)
		return c.JSON(fiber.Map{"data": dto.ClaimResponse{Outcome: string(result.Outcome), Ticket: &resp}})
	case service.ClaimRejected:
		return c.Status(http.StatusConflict).JSON(fiber.Map{"data": dto.ClaimResponse{
			Outcome:  string(result.Outcome),
			HeldBy:   result.HeldBy,
			HeldByID: result.HeldByID,
		}})
	default:
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
}

func ticketIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:             ticket.ID,
		Type:           ticket.Type,
		ReporterName:   ticket.ReporterName,
		ReporterModule: ticket.ReporterModule,
		Category:       ticket.Category,
		Description:    ticket.Description,
		Status:         ticket.Status,
		ClaimedBy:      ticket.ClaimedBy,
		ClaimedByID:    ticket.ClaimedByID,
		ClaimedAt:      ticket.ClaimedAt,
		CreatedAt:      ticket.CreatedAt,
		Copies:         make([]dto.NotificationCopyResponse, 0, len(ticket.Copies)),
	}
	for surface, ref := range ticket.Copies {
		resp.Copies = append(resp.Copies, dto.NotificationCopyResponse{
			Surface:   surface,
			ChatID:    ref.ChatID,
			MessageID: ref.MessageID,
		})
	}
	sortCopies(resp.Copies)
	return resp
}

func sortCopies(copies []dto.NotificationCopyResponse) {
	sort.Slice(copies, func(i, j int) bool { return copies[i].Surface < copies[j].Surface })
}

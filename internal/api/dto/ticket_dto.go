package dto

import (
	"time"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// NotificationCopyResponse locates one delivered copy of a ticket.
type NotificationCopyResponse struct {
	Surface   domain.SurfaceKey `json:"surface"`
	ChatID    int64             `json:"chat_id"`
	MessageID int               `json:"message_id"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID             int64                      `json:"id"`
	Type           domain.TicketType          `json:"type"`
	ReporterName   string                     `json:"reporter_name"`
	ReporterModule string                     `json:"reporter_module"`
	Category       string                     `json:"category"`
	Description    string                     `json:"description"`
	Status         domain.TicketStatus        `json:"status"`
	ClaimedBy      string                     `json:"claimed_by,omitempty"`
	ClaimedByID    int64                      `json:"claimed_by_id,omitempty"`
	ClaimedAt      *time.Time                 `json:"claimed_at,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	Copies         []NotificationCopyResponse `json:"copies"`
}

// ClaimResponse reports the outcome of POST /tickets/:id/claim.
type ClaimResponse struct {
	Outcome  string          `json:"outcome"`
	Ticket   *TicketResponse `json:"ticket,omitempty"`
	HeldBy   string          `json:"held_by,omitempty"`
	HeldByID int64           `json:"held_by_id,omitempty"`
}

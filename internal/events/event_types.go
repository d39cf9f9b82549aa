package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated EventType = "ticket_created"
	EventTicketClaimed EventType = "ticket_claimed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  int64       `json:"ticket_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(eventType EventType, ticketID int64, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload carries the committed ticket.
type TicketCreatedPayload struct {
	Ticket domain.Ticket `json:"ticket"`
}

// TicketClaimedPayload carries the ticket after the claim was committed.
type TicketClaimedPayload struct {
	Ticket      domain.Ticket `json:"ticket"`
	ClaimedBy   string        `json:"claimed_by"`
	ClaimedByID int64         `json:"claimed_by_id"`
}

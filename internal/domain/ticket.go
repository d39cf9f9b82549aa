package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TicketType enumerates the kinds of submissions a ticket can carry.
type TicketType string

const (
	TicketTypeError      TicketType = "ERROR"
	TicketTypeSuggestion TicketType = "SUGGESTION"
)

// Valid reports whether t is a known ticket type.
func (t TicketType) Valid() bool {
	return t == TicketTypeError || t == TicketTypeSuggestion
}

// Label is the user-facing name of the type.
func (t TicketType) Label() string {
	switch t {
	case TicketTypeError:
		return "Ошибка"
	case TicketTypeSuggestion:
		return "Предложение"
	default:
		return string(t)
	}
}

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
)

// CategoryNone is stored as the category of suggestion tickets.
const CategoryNone = "—"

// SurfaceGroup is the surface key of the shared group copy.
const SurfaceGroup SurfaceKey = "group"

// SurfaceKey identifies one destination a notification copy was sent to.
type SurfaceKey string

// AdminSurface returns the surface key of an administrator's private copy.
func AdminSurface(adminID int64) SurfaceKey {
	return SurfaceKey("admin:" + strconv.FormatInt(adminID, 10))
}

// MessageRef locates a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the reference points nowhere.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// Claimant identifies the administrator taking a ticket.
type Claimant struct {
	ID   int64
	Name string
}

// Ticket is the aggregate for a submitted error report or suggestion.
type Ticket struct {
	ID             int64                     `json:"id"`
	Type           TicketType                `json:"type"`
	ReporterName   string                    `json:"reporter_name"`
	ReporterModule string                    `json:"reporter_module"`
	Category       string                    `json:"category"`
	Description    string                    `json:"description"`
	Status         TicketStatus              `json:"status"`
	ClaimedBy      string                    `json:"claimed_by,omitempty"`
	ClaimedByID    int64                     `json:"claimed_by_id,omitempty"`
	ClaimedAt      *time.Time                `json:"claimed_at,omitempty"`
	Copies         map[SurfaceKey]MessageRef `json:"copies"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// Clone returns a deep copy so callers never share the copies map.
func (t Ticket) Clone() Ticket {
	out := t
	out.Copies = make(map[SurfaceKey]MessageRef, len(t.Copies))
	for k, v := range t.Copies {
		out.Copies[k] = v
	}
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		out.ClaimedAt = &at
	}
	return out
}

// IsClaimed reports whether an administrator has taken the ticket.
func (t Ticket) IsClaimed() bool {
	return t.Status == TicketStatusInProgress
}

// ErrTicketNotFound is returned by ticket stores for unknown IDs.
var ErrTicketNotFound = errors.New("ticket not found")

// AlreadyClaimedError reports a lost claim race together with the holder.
type AlreadyClaimedError struct {
	TicketID    int64
	ClaimedBy   string
	ClaimedByID int64
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("ticket %d is already in progress (taken by %s)", e.TicketID, e.ClaimedBy)
}

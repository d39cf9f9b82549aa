package service

import (
	"fmt"
	"html"
	"strings"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

func typeEmoji(t domain.TicketType) string {
	if t == domain.TicketTypeError {
		return "🚨"
	}
	return "💡"
}

// RenderTicket returns the HTML text shown on every notification copy of
// the ticket. Claimed tickets carry a trailing line naming the claimant.
func RenderTicket(ticket domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Новая заявка #%d: %s</b>\n\n",
		typeEmoji(ticket.Type), ticket.ID, html.EscapeString(ticket.Type.Label()))
	fmt.Fprintf(&b, "👤 %s\n", html.EscapeString(ticket.ReporterName))
	fmt.Fprintf(&b, "📦 %s\n", html.EscapeString(ticket.ReporterModule))
	if ticket.Category != "" && ticket.Category != domain.CategoryNone {
		fmt.Fprintf(&b, "📂 %s\n", html.EscapeString(ticket.Category))
	}
	fmt.Fprintf(&b, "💬 %s", html.EscapeString(ticket.Description))
	if ticket.IsClaimed() {
		fmt.Fprintf(&b, "\n\n✅ <b>Взял(а): %s</b>", html.EscapeString(ticket.ClaimedBy))
	}
	return b.String()
}

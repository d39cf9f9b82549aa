package telegram

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v3"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/service"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

const (
	usersTextLimit  = 4000
	usersTruncated  = "\n\n... (список обрезан)"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	textNoAccess        = "У вас нет доступа."
	textNoCommandAccess = "У вас нет доступа к этой команде."
	textTicketNotFound  = "Заявка не найдена."
	textTaken           = "Вы взяли заявку в работу!"
	textAlreadyYours    = "Эта заявка уже у вас в работе."
	textAdminPanel      = "⚙️ <b>Панель администратора</b>"
	textNoSubmissions   = "Файл обращений пока пуст."
	textNoUsers         = "Зарегистрированных пользователей нет."
)

// AdminPanel serves the /admin command, its buttons and the "take" button
// on ticket notices.
type AdminPanel struct {
	admin   *service.AdminService
	tickets *service.TicketService
	catalog config.Catalog
	now     func() time.Time
}

// NewAdminPanel creates the panel.
func NewAdminPanel(admin *service.AdminService, tickets *service.TicketService, catalog config.Catalog) *AdminPanel {
	return &AdminPanel{admin: admin, tickets: tickets, catalog: catalog, now: time.Now}
}

// Allowed reports whether userID may use the panel.
func (p *AdminPanel) Allowed(userID int64) bool {
	return p.admin.IsAdmin(userID)
}

// Panel answers /admin.
func (p *AdminPanel) Panel(userID int64) Reply {
	if !p.Allowed(userID) {
		return Reply{Text: textNoCommandAccess}
	}
	return Reply{Text: textAdminPanel, Markup: adminKeyboard()}
}

// Take claims the ticket named by payload for the pressing administrator.
// The answer is shown as a callback notification.
func (p *AdminPanel) Take(ctx context.Context, claimant domain.Claimant, payload string) (*tele.CallbackResponse, error) {
	if !p.Allowed(claimant.ID) {
		return &tele.CallbackResponse{Text: textNoAccess, ShowAlert: true}, nil
	}
	id, ok := parseTicketID(payload)
	if !ok {
		return &tele.CallbackResponse{Text: textTicketNotFound, ShowAlert: true}, nil
	}

	result, err := p.tickets.ClaimTicket(ctx, id, claimant)
	if err != nil {
		return nil, err
	}
	switch result.Outcome {
	case service.ClaimConfirmed:
		return &tele.CallbackResponse{Text: textTaken}, nil
	case service.ClaimRejected:
		if result.HeldBySelf(claimant) {
			return &tele.CallbackResponse{Text: textAlreadyYours}, nil
		}
		return &tele.CallbackResponse{Text: "Уже взята: " + result.HeldBy, ShowAlert: true}, nil
	default:
		return &tele.CallbackResponse{Text: textTicketNotFound, ShowAlert: true}, nil
	}
}

// StatsText renders the statistics screen.
func (p *AdminPanel) StatsText(ctx context.Context) (string, error) {
	stats, err := p.admin.Stats(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📊 <b>Статистика</b>\n\n"+
		"Всего обращений: <b>%d</b>\n"+
		"Ошибок: <b>%d</b>\n"+
		"Предложений: <b>%d</b>\n"+
		"Пользователей: <b>%d</b>\n\n"+
		"Заявок новых: <b>%d</b>\n"+
		"Заявок в работе: <b>%d</b>",
		stats.Submissions, stats.Errors, stats.Suggestions, stats.Users,
		stats.TicketsNew, stats.TicketsInProgress), nil
}

// UsersText renders the user list, cut to fit one message.
func (p *AdminPanel) UsersText(ctx context.Context) (string, error) {
	users, err := p.admin.Users(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return textNoUsers, nil
	}
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("%s — %s %s (ID: <code>%d</code>)",
			html.EscapeString(u.Name), p.catalog.ModuleEmoji(u.Module), html.EscapeString(u.Module), u.UserID))
	}
	return truncateLines("👥 <b>Пользователи</b>\n\n"+strings.Join(lines, "\n"), usersTextLimit), nil
}

// truncateLines cuts text to at most limit characters at a line boundary
// so no HTML tag is left open.
func truncateLines(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := string([]rune(text)[:limit])
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = strings.TrimRight(cut[:i], "\n")
	}
	return cut + usersTruncated
}

// Export returns the submissions workbook as a document, or nil when no
// submission was recorded yet.
func (p *AdminPanel) Export(ctx context.Context) (*tele.Document, error) {
	var buf bytes.Buffer
	if err := p.admin.Export(ctx, &buf); err != nil {
		if apperrors.IsCode(err, "NOT_FOUND") {
			return nil, nil
		}
		return nil, err
	}
	return &tele.Document{
		File:     tele.FromReader(&buf),
		FileName: p.now().Format(service.ExportFileNameLayout),
		MIME:     xlsxContentType,
		Caption:  "Выгрузка обращений",
	}, nil
}

// GroupHint is posted when the bot joins a group.
func GroupHint(chatID int64) string {
	return fmt.Sprintf("👋 Бот добавлен в группу!\n\n"+
		"<b>Chat ID этой группы:</b>\n<code>%d</code>\n\n"+
		"Укажите его в переменной окружения:\n<code>GROUP_CHAT_ID=%d</code>", chatID, chatID)
}

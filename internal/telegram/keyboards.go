package telegram

import (
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/spec-kit/crm-intake-bot/internal/config"
)

// Callback uniques. Buttons carry "\f<unique>|<payload>" and are routed by
// unique, so payloads stay short indexes and ticket IDs.
const (
	cbModule      = "module"
	cbReportError = "report_error"
	cbErrorCat    = "errcat"
	cbSuggest     = "suggest"
	cbBackMenu    = "back_menu"
	cbAdmin       = "admin"
	cbTake        = "take"
)

// Admin panel actions, sent as the payload of cbAdmin.
const (
	adminExport = "export"
	adminStats  = "stats"
	adminUsers  = "users"
)

const startButtonText = "▶️ Старт"

func startKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{ResizeKeyboard: true}
	m.Reply(m.Row(m.Text(startButtonText)))
	return m
}

func mainMenuKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("🐞 Сообщить об ошибке", cbReportError)),
		m.Row(m.Data("💡 Предложить улучшение", cbSuggest)),
	)
	return m
}

func modulesKeyboard(catalog config.Catalog) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(catalog.Modules))
	for i, module := range catalog.Modules {
		label := catalog.ModuleEmoji(module.Name) + " " + module.Name
		rows = append(rows, m.Row(m.Data(label, cbModule, strconv.Itoa(i))))
	}
	m.Inline(rows...)
	return m
}

func categoriesKeyboard(catalog config.Catalog) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(catalog.ErrorCategories)+1)
	for i, category := range catalog.ErrorCategories {
		label := catalog.CategoryEmoji(category.Name) + " " + category.Name
		rows = append(rows, m.Row(m.Data(label, cbErrorCat, strconv.Itoa(i))))
	}
	rows = append(rows, m.Row(m.Data("« Назад", cbBackMenu)))
	m.Inline(rows...)
	return m
}

func cancelKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data("✕ Отмена", cbBackMenu)))
	return m
}

func backToMenuKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data("« В главное меню", cbBackMenu)))
	return m
}

func adminKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("📥 Выгрузить Excel", cbAdmin, adminExport)),
		m.Row(m.Data("📊 Статистика", cbAdmin, adminStats)),
		m.Row(m.Data("👥 Список пользователей", cbAdmin, adminUsers)),
	)
	return m
}

func claimKeyboard(ticketID int64) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data("🙋 Взять в работу", cbTake, strconv.FormatInt(ticketID, 10))))
	return m
}

func parseIndex(payload string) (int, bool) {
	i, err := strconv.Atoi(payload)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func parseTicketID(payload string) (int64, bool) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

package telegram

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	tele "gopkg.in/telebot.v3"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

var (
	alice = domain.Claimant{ID: 101, Name: "Alice"}
	bob   = domain.Claimant{ID: 102, Name: "Bob"}
)

func (f *botFixture) submitError(t *testing.T) {
	t.Helper()
	f.register(t)
	ctx := context.Background()
	_, err := f.dialogue.Callback(ctx, userID, cbReportError, "")
	require.NoError(t, err)
	_, err = f.dialogue.Callback(ctx, userID, cbErrorCat, "1")
	require.NoError(t, err)
	_, err = f.dialogue.Text(ctx, userID, "Card does not open")
	require.NoError(t, err)
}

func TestAdminPanel_Access(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())

	reply := f.panel.Panel(userID)
	assert.Equal(t, textNoCommandAccess, reply.Text)
	assert.Nil(t, reply.Markup)

	reply = f.panel.Panel(101)
	assert.Equal(t, textAdminPanel, reply.Text)
	assert.Equal(t, []string{"admin|export", "admin|stats", "admin|users"}, buttons(reply.Markup))
}

func TestAdminPanel_TakeUpdatesEveryCopy(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.submitError(t)

	resp, err := f.panel.Take(ctx, alice, "1")
	require.NoError(t, err)
	assert.Equal(t, textTaken, resp.Text)
	assert.False(t, resp.ShowAlert)

	edits := f.messenger.editedCopies()
	require.Len(t, edits, 3)
	chats := map[int64]bool{}
	for _, e := range edits {
		chats[e.ChatID] = true
		assert.True(t, strings.HasSuffix(e.Text, "\n\n✅ <b>Взял(а): Alice</b>"))
	}
	assert.Equal(t, map[int64]bool{101: true, 102: true, testGroupChatID: true}, chats)

	resp, err = f.panel.Take(ctx, bob, "1")
	require.NoError(t, err)
	assert.Equal(t, "Уже взята: Alice", resp.Text)
	assert.True(t, resp.ShowAlert)
	assert.Len(t, f.messenger.editedCopies(), 3)

	resp, err = f.panel.Take(ctx, alice, "1")
	require.NoError(t, err)
	assert.Equal(t, textAlreadyYours, resp.Text)
	assert.False(t, resp.ShowAlert)

	ticket, err := f.tickets.GetTicket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.Equal(t, "Alice", ticket.ClaimedBy)
}

func TestAdminPanel_TakeRefusals(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.submitError(t)

	resp, err := f.panel.Take(ctx, domain.Claimant{ID: userID, Name: "Ivanov Ivan"}, "1")
	require.NoError(t, err)
	assert.Equal(t, textNoAccess, resp.Text)
	assert.True(t, resp.ShowAlert)

	ticket, err := f.tickets.GetTicket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)

	for _, payload := range []string{"999", "abc", "", "-1"} {
		resp, err = f.panel.Take(ctx, alice, payload)
		require.NoError(t, err)
		assert.Equal(t, textTicketNotFound, resp.Text, payload)
	}
	assert.Empty(t, f.messenger.editedCopies())
}

func TestAdminPanel_StatsAndUsers(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()

	text, err := f.panel.UsersText(ctx)
	require.NoError(t, err)
	assert.Equal(t, textNoUsers, text)

	f.submitError(t)
	_, err = f.panel.Take(ctx, alice, "1")
	require.NoError(t, err)

	text, err = f.panel.StatsText(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "Всего обращений: <b>1</b>")
	assert.Contains(t, text, "Ошибок: <b>1</b>")
	assert.Contains(t, text, "Предложений: <b>0</b>")
	assert.Contains(t, text, "Пользователей: <b>1</b>")
	assert.Contains(t, text, "Заявок в работе: <b>1</b>")

	text, err = f.panel.UsersText(ctx)
	require.NoError(t, err)
	module := config.DefaultCatalog().Modules[0]
	assert.Contains(t, text, "Ivanov Ivan — "+module.Emoji+" "+module.Name+" (ID: <code>7</code>)")
}

func TestTruncateLines(t *testing.T) {
	short := "header\n\nline"
	assert.Equal(t, short, truncateLines(short, 100))

	long := "👥 <b>Пользователи</b>\n\n" + strings.Repeat("Иванов Иван (ID: <code>1</code>)\n", 200)
	got := truncateLines(long, usersTextLimit)
	assert.True(t, strings.HasSuffix(got, usersTruncated))
	body := strings.TrimSuffix(got, usersTruncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(body), usersTextLimit)
	assert.True(t, strings.HasSuffix(body, "</code>)"))
}

func TestAdminPanel_Export(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.panel.now = func() time.Time { return time.Date(2026, 3, 5, 9, 7, 0, 0, time.UTC) }

	doc, err := f.panel.Export(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)

	f.submitError(t)
	doc, err = f.panel.Export(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "crm_support_20260305_0907.xlsx", doc.FileName)

	book, err := excelize.OpenReader(doc.FileReader)
	require.NoError(t, err)
	rows, err := book.GetRows(book.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Card does not open", rows[1][len(rows[1])-1])
}

func TestGroupHint(t *testing.T) {
	hint := GroupHint(-100123)
	assert.Contains(t, hint, "<code>-100123</code>")
	assert.Contains(t, hint, "GROUP_CHAT_ID=-100123")
}

func TestClaimantOfUsesFullName(t *testing.T) {
	c := claimantOf(&tele.User{ID: 101, FirstName: "Alice", LastName: "Smith"})
	assert.Equal(t, domain.Claimant{ID: 101, Name: "Alice Smith"}, c)
	assert.Equal(t, "alice", claimantOf(&tele.User{ID: 101, Username: "alice"}).Name)
}

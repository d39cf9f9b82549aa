package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

const userID int64 = 7

func (f *botFixture) step(t *testing.T) domain.DialogueStep {
	t.Helper()
	session, err := f.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	return session.Step
}

func (f *botFixture) register(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.dialogue.Start(ctx, userID)
	require.NoError(t, err)
	_, err = f.dialogue.Text(ctx, userID, "Ivanov Ivan")
	require.NoError(t, err)
	_, err = f.dialogue.Callback(ctx, userID, cbModule, "0")
	require.NoError(t, err)
}

func TestDialogue_Registration(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()

	reply, err := f.dialogue.Start(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Введите ваше ФИО")
	require.NotNil(t, reply.Markup)
	assert.Equal(t, startButtonText, reply.Markup.ReplyKeyboard[0][0].Text)
	assert.Equal(t, domain.StepAwaitName, f.step(t))

	reply, err = f.dialogue.Text(ctx, userID, " Ян ")
	require.NoError(t, err)
	assert.Equal(t, textBadName, reply.Text)
	assert.Equal(t, domain.StepAwaitName, f.step(t))

	reply, err = f.dialogue.Text(ctx, userID, "Ivanov <Ivan>")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Отлично, <b>Ivanov &lt;Ivan&gt;</b>!")
	assert.Len(t, buttons(reply.Markup), len(config.DefaultCatalog().Modules))
	assert.Equal(t, "module|0", buttons(reply.Markup)[0])
	assert.Equal(t, domain.StepAwaitModule, f.step(t))

	reply, err = f.dialogue.Callback(ctx, userID, cbModule, "1")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Выберите действие")
	assert.Equal(t, []string{"report_error|", "suggest|"}, buttons(reply.Markup))
	assert.Equal(t, domain.StepMainMenu, f.step(t))

	profile, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ivanov <Ivan>", profile.Name)
	assert.Equal(t, config.DefaultCatalog().Modules[1].Name, profile.Module)
}

func TestDialogue_BadModuleIndexReprompts(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	_, err := f.dialogue.Start(ctx, userID)
	require.NoError(t, err)
	_, err = f.dialogue.Text(ctx, userID, "Ivanov Ivan")
	require.NoError(t, err)

	reply, err := f.dialogue.Callback(ctx, userID, cbModule, "99")
	require.NoError(t, err)
	assert.NotEmpty(t, buttons(reply.Markup))
	assert.Equal(t, domain.StepAwaitModule, f.step(t))
}

func TestDialogue_ErrorReport(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.register(t)

	reply, err := f.dialogue.Callback(ctx, userID, cbReportError, "")
	require.NoError(t, err)
	assert.Equal(t, textReportError, reply.Text)
	btns := buttons(reply.Markup)
	assert.Equal(t, "back_menu|", btns[len(btns)-1])
	assert.Equal(t, domain.StepAwaitCategory, f.step(t))

	// "Другое" gets the detailed prompt.
	reply, err = f.dialogue.Callback(ctx, userID, cbErrorCat, "3")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Категория: Другое")
	assert.Contains(t, reply.Text, "Расскажите подробнее")
	assert.Equal(t, []string{"back_menu|"}, buttons(reply.Markup))

	session, err := f.sessions.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.AwaitingErrorText("Другое"), session)

	reply, err = f.dialogue.Text(ctx, userID, "   ")
	require.NoError(t, err)
	assert.Equal(t, textEmptyText, reply.Text)
	assert.Equal(t, domain.StepAwaitErrorText, f.step(t))

	reply, err = f.dialogue.Text(ctx, userID, "Card does not open")
	require.NoError(t, err)
	assert.Equal(t, textErrorAccepted, reply.Text)
	assert.Equal(t, domain.StepMainMenu, f.step(t))

	// Two admins and the group got the notice with a take button.
	require.Equal(t, 3, f.messenger.sentCount())
	first := f.messenger.sent[0]
	assert.Equal(t, int64(101), first.ChatID)
	assert.Contains(t, first.Text, "🚨 <b>Новая заявка #1: Ошибка</b>")
	assert.Contains(t, first.Text, "📂 Другое")
	assert.Contains(t, first.Text, "💬 Card does not open")
	assert.Equal(t, []string{"take|1"}, buttons(first.Opts.ReplyMarkup))

	ticket, err := f.tickets.GetTicket(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, ticket.Copies, 3)
}

func TestDialogue_CategoryPrompt(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.register(t)
	_, err := f.dialogue.Callback(ctx, userID, cbReportError, "")
	require.NoError(t, err)

	reply, err := f.dialogue.Callback(ctx, userID, cbErrorCat, "0")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "📊 <b>Категория: Воронка продаж</b>")
	assert.Contains(t, reply.Text, "• Есть ли скриншот?")
}

func TestDialogue_Suggestion(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.register(t)

	reply, err := f.dialogue.Callback(ctx, userID, cbSuggest, "")
	require.NoError(t, err)
	assert.Equal(t, textSuggest, reply.Text)
	assert.Equal(t, domain.StepAwaitSuggestionText, f.step(t))

	reply, err = f.dialogue.Text(ctx, userID, "Dark theme")
	require.NoError(t, err)
	assert.Equal(t, textSuggestionAccepted, reply.Text)
	assert.Equal(t, []string{"back_menu|"}, buttons(reply.Markup))

	require.Equal(t, 3, f.messenger.sentCount())
	text := f.messenger.sent[0].Text
	assert.Contains(t, text, "💡 <b>Новая заявка #1: Предложение</b>")
	assert.NotContains(t, text, "📂")
}

func TestDialogue_BackToMenuFromAnyStep(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.register(t)
	_, err := f.dialogue.Callback(ctx, userID, cbSuggest, "")
	require.NoError(t, err)

	reply, err := f.dialogue.Callback(ctx, userID, cbBackMenu, "")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Выберите действие")
	assert.Equal(t, domain.StepMainMenu, f.step(t))
	assert.Zero(t, f.messenger.sentCount())
}

func TestDialogue_UnregisteredUser(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()

	reply, err := f.dialogue.Callback(ctx, userID, cbBackMenu, "")
	require.NoError(t, err)
	assert.Equal(t, textPressStart, reply.Text)
	assert.Equal(t, domain.StepIdle, f.step(t))

	reply, err = f.dialogue.Callback(ctx, userID, cbReportError, "")
	require.NoError(t, err)
	assert.Equal(t, textPressStart, reply.Text)

	reply, err = f.dialogue.Text(ctx, userID, "hello")
	require.NoError(t, err)
	assert.True(t, reply.Empty())
}

func TestDialogue_StaleButtonIgnoredOutsideItsStep(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	f.register(t)

	reply, err := f.dialogue.Callback(ctx, userID, cbErrorCat, "0")
	require.NoError(t, err)
	assert.Equal(t, textPressStart, reply.Text)
	assert.Equal(t, domain.StepMainMenu, f.step(t))
}

func TestDialogue_ModuleRemovedFromCatalog(t *testing.T) {
	f := setupBot(t, config.DefaultCatalog())
	ctx := context.Background()
	require.NoError(t, f.users.Upsert(ctx, &domain.Profile{UserID: userID, Name: "Ivanov Ivan", Module: "Модуль прошлых лет"}))

	reply, err := f.dialogue.Start(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Список модулей обновился")
	session, err := f.sessions.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.AwaitingModule("Ivanov Ivan"), session)

	reply, err = f.dialogue.Callback(ctx, userID, cbModule, "2")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Выберите действие")

	profile, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ivanov Ivan", profile.Name)
	assert.Equal(t, config.DefaultCatalog().Modules[2].Name, profile.Module)
}

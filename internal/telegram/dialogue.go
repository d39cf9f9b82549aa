package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"

	tele "gopkg.in/telebot.v3"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	"github.com/spec-kit/crm-intake-bot/internal/service"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// Reply is the bot's answer to one update. An empty Text means the update
// is ignored.
type Reply struct {
	Text   string
	Markup *tele.ReplyMarkup
}

// Empty reports whether nothing should be sent.
func (r Reply) Empty() bool {
	return r.Text == ""
}

const (
	textWelcome = "Добро пожаловать в <b>CRM-Помощник</b>! 👋\n\n" +
		"Здесь вы можете сообщить об ошибке или предложить улучшение для 1С CRM.\n\n" +
		"Для начала давайте познакомимся.\nВведите ваше ФИО:"
	textBadName       = "Пожалуйста, введите корректное ФИО:"
	textPressStart    = "Нажмите /start для начала."
	textReportError   = "🐞 <b>Сообщить об ошибке</b>\n\nВыберите категорию проблемы:"
	textSuggest       = "💡 <b>Предложить улучшение</b>\n\nОпишите, что можно улучшить в системе.\nЛюбая деталь может быть полезной."
	textEmptyText     = "Пожалуйста, опишите подробнее текстом:"
	textErrorAccepted = "✅ <b>Принято в работу!</b>\n\n" +
		"Спасибо, что сообщили — мы разберёмся и постараемся исправить."
	textSuggestionAccepted = "✅ <b>Предложение принято!</b>\n\nСпасибо за идею — мы обязательно рассмотрим."
	otherCategory          = "Другое"
)

// Dialogue drives registration and submission for one user at a time. The
// step of every user lives in the session repository.
type Dialogue struct {
	sessions repository.SessionRepository
	intake   *service.IntakeService
	catalog  config.Catalog
	logger   *zap.Logger
}

// DialogueDependencies bundles collaborators for the dialogue.
type DialogueDependencies struct {
	Sessions repository.SessionRepository
	Intake   *service.IntakeService
	Catalog  config.Catalog
	Logger   *zap.Logger
}

// NewDialogue creates the dialogue.
func NewDialogue(deps DialogueDependencies) *Dialogue {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialogue{
		sessions: deps.Sessions,
		intake:   deps.Intake,
		catalog:  deps.Catalog,
		logger:   logger,
	}
}

// Start handles /start and the persistent start button.
func (d *Dialogue) Start(ctx context.Context, userID int64) (Reply, error) {
	profile, err := d.intake.Profile(ctx, userID)
	if errors.Is(err, service.ErrNotRegistered) {
		if err := d.sessions.Save(ctx, userID, domain.Session{Step: domain.StepAwaitName}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: textWelcome, Markup: startKeyboard()}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	if !d.intake.HasCurrentModule(profile) {
		if err := d.sessions.Save(ctx, userID, domain.AwaitingModule(profile.Name)); err != nil {
			return Reply{}, err
		}
		return Reply{
			Text: fmt.Sprintf("Здравствуйте, <b>%s</b>!\n\nСписок модулей обновился.\n"+
				"Пожалуйста, выберите ваш модуль заново:", html.EscapeString(profile.Name)),
			Markup: modulesKeyboard(d.catalog),
		}, nil
	}
	return d.mainMenu(ctx, userID, profile)
}

// Text handles a plain message in the current step.
func (d *Dialogue) Text(ctx context.Context, userID int64, text string) (Reply, error) {
	session, err := d.sessions.Get(ctx, userID)
	if err != nil {
		return Reply{}, err
	}

	switch session.Step {
	case domain.StepAwaitName:
		name, ok := service.NormalizeName(text)
		if !ok {
			return Reply{Text: textBadName}, nil
		}
		if err := d.sessions.Save(ctx, userID, domain.AwaitingModule(name)); err != nil {
			return Reply{}, err
		}
		return Reply{
			Text: fmt.Sprintf("Отлично, <b>%s</b>!\n\nВыберите модуль 1С CRM, с которым вы работаете:",
				html.EscapeString(name)),
			Markup: modulesKeyboard(d.catalog),
		}, nil

	case domain.StepAwaitErrorText:
		_, err := d.intake.SubmitError(ctx, userID, session.PendingCategory, text)
		return d.submitted(ctx, userID, err, textErrorAccepted)

	case domain.StepAwaitSuggestionText:
		_, err := d.intake.SubmitSuggestion(ctx, userID, text)
		return d.submitted(ctx, userID, err, textSuggestionAccepted)
	}
	return Reply{}, nil
}

// Callback handles a dialogue button press. Presses that do not match the
// current step ask the user to start over.
func (d *Dialogue) Callback(ctx context.Context, userID int64, unique, payload string) (Reply, error) {
	if unique == cbBackMenu {
		return d.backToMenu(ctx, userID)
	}

	session, err := d.sessions.Get(ctx, userID)
	if err != nil {
		return Reply{}, err
	}

	switch {
	case unique == cbModule && session.Step == domain.StepAwaitModule:
		return d.chooseModule(ctx, userID, session, payload)

	case unique == cbReportError && session.Step == domain.StepMainMenu:
		if err := d.sessions.Save(ctx, userID, domain.Session{Step: domain.StepAwaitCategory}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: textReportError, Markup: categoriesKeyboard(d.catalog)}, nil

	case unique == cbSuggest && session.Step == domain.StepMainMenu:
		if err := d.sessions.Save(ctx, userID, domain.Session{Step: domain.StepAwaitSuggestionText}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: textSuggest, Markup: cancelKeyboard()}, nil

	case unique == cbErrorCat && session.Step == domain.StepAwaitCategory:
		return d.chooseCategory(ctx, userID, payload)
	}
	return Reply{Text: textPressStart}, nil
}

func (d *Dialogue) chooseModule(ctx context.Context, userID int64, session domain.Session, payload string) (Reply, error) {
	i, ok := parseIndex(payload)
	module, found := d.catalog.Module(i)
	if !ok || !found {
		return Reply{Text: "Выберите модуль из списка:", Markup: modulesKeyboard(d.catalog)}, nil
	}
	profile, err := d.intake.Register(ctx, userID, session.PendingName, module.Name)
	if apperrors.IsCode(err, "VALIDATION_FAILED") {
		// The pending name was lost; begin again.
		return d.Start(ctx, userID)
	}
	if err != nil {
		return Reply{}, err
	}
	return d.mainMenu(ctx, userID, profile)
}

func (d *Dialogue) chooseCategory(ctx context.Context, userID int64, payload string) (Reply, error) {
	i, ok := parseIndex(payload)
	category, found := d.catalog.Category(i)
	if !ok || !found {
		return Reply{Text: textReportError, Markup: categoriesKeyboard(d.catalog)}, nil
	}
	if err := d.sessions.Save(ctx, userID, domain.AwaitingErrorText(category.Name)); err != nil {
		return Reply{}, err
	}

	header := fmt.Sprintf("%s <b>Категория: %s</b>\n\n",
		d.catalog.CategoryEmoji(category.Name), html.EscapeString(category.Name))
	if category.Name == otherCategory {
		return Reply{
			Text: header + "Расскажите подробнее, с какой проблемой вы столкнулись.\n" +
				"Опишите шаги, которые привели к ошибке — это поможет нам разобраться быстрее.",
			Markup: cancelKeyboard(),
		}, nil
	}
	return Reply{
		Text:   header + "Опишите проблему:\n• Что произошло?\n• При каких действиях?\n• Есть ли скриншот?",
		Markup: cancelKeyboard(),
	}, nil
}

func (d *Dialogue) backToMenu(ctx context.Context, userID int64) (Reply, error) {
	profile, err := d.intake.Profile(ctx, userID)
	if errors.Is(err, service.ErrNotRegistered) {
		if err := d.sessions.Reset(ctx, userID); err != nil {
			return Reply{}, err
		}
		return Reply{Text: textPressStart}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	return d.mainMenu(ctx, userID, profile)
}

func (d *Dialogue) submitted(ctx context.Context, userID int64, err error, accepted string) (Reply, error) {
	switch {
	case err == nil:
		if err := d.sessions.Save(ctx, userID, domain.MainMenu()); err != nil {
			return Reply{}, err
		}
		return Reply{Text: accepted, Markup: backToMenuKeyboard()}, nil
	case errors.Is(err, service.ErrNotRegistered):
		if err := d.sessions.Reset(ctx, userID); err != nil {
			return Reply{}, err
		}
		return Reply{Text: textPressStart}, nil
	case apperrors.IsCode(err, "VALIDATION_FAILED"):
		return Reply{Text: textEmptyText, Markup: cancelKeyboard()}, nil
	default:
		return Reply{}, err
	}
}

func (d *Dialogue) mainMenu(ctx context.Context, userID int64, profile *domain.Profile) (Reply, error) {
	if err := d.sessions.Save(ctx, userID, domain.MainMenu()); err != nil {
		return Reply{}, err
	}
	return Reply{
		Text: fmt.Sprintf("Здравствуйте, <b>%s</b>!\n%s Модуль: %s\n\nВыберите действие:",
			html.EscapeString(profile.Name),
			d.catalog.ModuleEmoji(profile.Module),
			html.EscapeString(profile.Module)),
		Markup: mainMenuKeyboard(),
	}, nil
}

package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

const textInternalError = "Что-то пошло не так. Попробуйте ещё раз."

// NewAPI connects to the Bot API with long polling. Every call, including
// sends made by the notification surface, is bounded by the HTTP client.
func NewAPI(cfg config.TelegramConfig, logger *zap.Logger) (*tele.Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	return tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout()},
		Client: &http.Client{Timeout: cfg.PollTimeout() + cfg.SendTimeout()},
		OnError: func(err error, c tele.Context) {
			fields := []zap.Field{zap.Error(err)}
			if c != nil && c.Sender() != nil {
				fields = append(fields, zap.Int64("user_id", c.Sender().ID))
			}
			logger.Error("telegram update failed", fields...)
		},
	})
}

// Bot routes chat updates to the dialogue and the admin panel.
type Bot struct {
	api      *tele.Bot
	dialogue *Dialogue
	admin    *AdminPanel
	logger   *zap.Logger
	timeout  time.Duration
}

// BotDependencies bundles collaborators for the bot.
type BotDependencies struct {
	API      *tele.Bot
	Dialogue *Dialogue
	Admin    *AdminPanel
	Logger   *zap.Logger
	// HandlerTimeout bounds the work done for one update.
	HandlerTimeout time.Duration
}

// NewBot registers all handlers on deps.API.
func NewBot(deps BotDependencies) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b := &Bot{
		api:      deps.API,
		dialogue: deps.Dialogue,
		admin:    deps.Admin,
		logger:   logger,
		timeout:  timeout,
	}
	b.register()
	return b
}

func (b *Bot) register() {
	b.api.Use(middleware.Recover(func(err error, c tele.Context) {
		b.logger.Error("telegram handler panicked", zap.Error(err))
	}))

	b.api.Handle("/start", b.onStart)
	b.api.Handle(startButtonText, b.onStart)
	b.api.Handle("/admin", b.onAdmin)
	b.api.Handle(tele.OnText, b.onText)
	b.api.Handle(tele.OnAddedToGroup, b.onAddedToGroup)

	for _, unique := range []string{cbModule, cbReportError, cbErrorCat, cbSuggest, cbBackMenu} {
		b.api.Handle(&tele.Btn{Unique: unique}, func(c tele.Context) error {
			return b.onDialogueCallback(c, unique)
		})
	}
	b.api.Handle(&tele.Btn{Unique: cbAdmin}, b.onAdminCallback)
	b.api.Handle(&tele.Btn{Unique: cbTake}, b.onTake)
}

// Run sets the command menu and polls updates until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	if err := b.api.SetCommands([]tele.Command{
		{Text: "start", Description: "Главное меню"},
		{Text: "admin", Description: "Панель администратора"},
	}); err != nil {
		b.logger.Warn("bot commands not set", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		b.api.Stop()
	}()
	b.logger.Info("telegram bot polling", zap.String("username", b.api.Me.Username))
	b.api.Start()
}

func (b *Bot) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

func (b *Bot) onStart(c tele.Context) error {
	if !c.Message().Private() {
		return nil
	}
	ctx, cancel := b.context()
	defer cancel()

	reply, err := b.dialogue.Start(ctx, c.Sender().ID)
	return b.send(c, reply, err)
}

func (b *Bot) onText(c tele.Context) error {
	if !c.Message().Private() {
		return nil
	}
	ctx, cancel := b.context()
	defer cancel()

	reply, err := b.dialogue.Text(ctx, c.Sender().ID, c.Text())
	return b.send(c, reply, err)
}

func (b *Bot) onDialogueCallback(c tele.Context, unique string) error {
	_ = c.Respond()
	ctx, cancel := b.context()
	defer cancel()

	reply, err := b.dialogue.Callback(ctx, c.Sender().ID, unique, c.Callback().Data)
	return b.edit(c, reply, err)
}

func (b *Bot) onAdmin(c tele.Context) error {
	return b.send(c, b.admin.Panel(c.Sender().ID), nil)
}

func (b *Bot) onAdminCallback(c tele.Context) error {
	_ = c.Respond()
	if !b.admin.Allowed(c.Sender().ID) {
		return b.edit(c, Reply{Text: textNoAccess}, nil)
	}
	ctx, cancel := b.context()
	defer cancel()

	switch c.Callback().Data {
	case adminExport:
		doc, err := b.admin.Export(ctx)
		if err != nil {
			return b.edit(c, Reply{}, err)
		}
		if doc == nil {
			return b.edit(c, Reply{Text: textNoSubmissions}, nil)
		}
		return c.Send(doc)
	case adminStats:
		text, err := b.admin.StatsText(ctx)
		return b.edit(c, Reply{Text: text}, err)
	case adminUsers:
		text, err := b.admin.UsersText(ctx)
		return b.edit(c, Reply{Text: text}, err)
	}
	return nil
}

func (b *Bot) onTake(c tele.Context) error {
	ctx, cancel := b.context()
	defer cancel()

	resp, err := b.admin.Take(ctx, claimantOf(c.Sender()), c.Callback().Data)
	if err != nil {
		b.logger.Error("take failed", zap.Int64("user_id", c.Sender().ID), zap.Error(err))
		return c.Respond(&tele.CallbackResponse{Text: textInternalError, ShowAlert: true})
	}
	return c.Respond(resp)
}

func (b *Bot) onAddedToGroup(c tele.Context) error {
	chat := c.Chat()
	if chat == nil || (chat.Type != tele.ChatGroup && chat.Type != tele.ChatSuperGroup) {
		return nil
	}
	b.logger.Info("bot added to group", zap.Int64("chat_id", chat.ID))
	return c.Send(GroupHint(chat.ID), tele.ModeHTML)
}

func (b *Bot) send(c tele.Context, reply Reply, err error) error {
	if err != nil {
		b.logger.Error("dialogue step failed", zap.Int64("user_id", c.Sender().ID), zap.Error(err))
		return c.Send(textInternalError)
	}
	if reply.Empty() {
		return nil
	}
	return c.Send(reply.Text, sendOptions(reply))
}

// edit replaces the message under a pressed button, falling back to a new
// message when it can no longer be edited.
func (b *Bot) edit(c tele.Context, reply Reply, err error) error {
	if err != nil {
		b.logger.Error("callback failed", zap.Int64("user_id", c.Sender().ID), zap.Error(err))
		return c.Send(textInternalError)
	}
	if reply.Empty() {
		return nil
	}
	editErr := c.Edit(reply.Text, sendOptions(reply))
	switch {
	case editErr == nil,
		errors.Is(editErr, tele.ErrMessageNotModified),
		errors.Is(editErr, tele.ErrSameMessageContent):
		return nil
	}
	b.logger.Debug("edit failed, sending instead", zap.Error(editErr))
	return c.Send(reply.Text, sendOptions(reply))
}

func sendOptions(reply Reply) *tele.SendOptions {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if reply.Markup != nil {
		opts.ReplyMarkup = reply.Markup
	}
	return opts
}

// claimantOf names an administrator by their chat profile.
func claimantOf(u *tele.User) domain.Claimant {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return domain.Claimant{ID: u.ID, Name: name}
}

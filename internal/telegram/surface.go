package telegram

import (
	"context"
	"errors"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/service"
)

// Messenger is the part of *tele.Bot the notification surface needs.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Surface delivers ticket notices through the Bot API.
type Surface struct {
	api Messenger
}

var _ service.MessagingSurface = (*Surface)(nil)

// NewSurface wraps api. Call timeouts come from the bot's HTTP client.
func NewSurface(api Messenger) *Surface {
	return &Surface{api: api}
}

// Send posts text to chatID, with a "take" button when action is set.
func (s *Surface) Send(ctx context.Context, chatID int64, text string, action *service.ClaimAction) (domain.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageRef{}, err
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if action != nil {
		opts.ReplyMarkup = claimKeyboard(action.TicketID)
	}
	msg, err := s.api.Send(&tele.Chat{ID: chatID}, text, opts)
	if err != nil {
		return domain.MessageRef{}, err
	}
	ref := domain.MessageRef{ChatID: chatID, MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref, nil
}

// Edit replaces the text of a delivered copy and drops its buttons. An
// edit that leaves the message unchanged counts as delivered.
func (s *Surface) Edit(ctx context.Context, ref domain.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	_, err := s.api.Edit(stored, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if errors.Is(err, tele.ErrMessageNotModified) || errors.Is(err, tele.ErrSameMessageContent) {
		return nil
	}
	return err
}

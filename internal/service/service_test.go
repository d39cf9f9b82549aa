package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Action *ClaimAction
}

type editedMessage struct {
	Ref  domain.MessageRef
	Text string
}

// fakeSurface records sends and edits. Chats listed in failSend or
// failEdit fail; every other call succeeds.
type fakeSurface struct {
	mu       sync.Mutex
	nextMsg  int
	sent     []sentMessage
	edited   []editedMessage
	failSend map[int64]bool
	failEdit map[int64]bool
	onSend   func(chatID int64)
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{failSend: map[int64]bool{}, failEdit: map[int64]bool{}}
}

func (f *fakeSurface) Send(_ context.Context, chatID int64, text string, action *ClaimAction) (domain.MessageRef, error) {
	f.mu.Lock()
	if f.failSend[chatID] {
		f.mu.Unlock()
		return domain.MessageRef{}, errors.New("bot was blocked by the user")
	}
	f.nextMsg++
	ref := domain.MessageRef{ChatID: chatID, MessageID: f.nextMsg}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Action: action})
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(chatID)
	}
	return ref, nil
}

func (f *fakeSurface) Edit(_ context.Context, ref domain.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEdit[ref.ChatID] {
		return errors.New("message to edit not found")
	}
	f.edited = append(f.edited, editedMessage{Ref: ref, Text: text})
	return nil
}

func (f *fakeSurface) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.ChatID)
	}
	return out
}

func (f *fakeSurface) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edited)
}

type serviceFixture struct {
	tickets      repository.TicketRepository
	surface      *fakeSurface
	notification *NotificationService
	ticketSvc    *TicketService
}

var (
	testAdminIDs    = []int64{101, 102, 103}
	testGroupChatID = int64(-1001)
)

func setupServices(t *testing.T) *serviceFixture {
	t.Helper()
	tickets, err := repository.NewMemoryTicketRepository("")
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher(nil)
	surface := newFakeSurface()
	notification := NewNotificationService(NotificationDependencies{
		Surface:     surface,
		TicketRepo:  tickets,
		Dispatcher:  dispatcher,
		AdminIDs:    testAdminIDs,
		GroupChatID: testGroupChatID,
	})
	notification.RegisterHandlers()

	return &serviceFixture{
		tickets:      tickets,
		surface:      surface,
		notification: notification,
		ticketSvc: NewTicketService(TicketDependencies{
			TicketRepo: tickets,
			Dispatcher: dispatcher,
		}),
	}
}

func (f *serviceFixture) createError(t *testing.T, description string) *domain.Ticket {
	t.Helper()
	ticket, err := f.ticketSvc.CreateTicket(context.Background(), TicketCreateInput{
		Type:           domain.TicketTypeError,
		ReporterName:   "Ivanov Ivan",
		ReporterModule: "Sales",
		Category:       "CardIssue",
		Description:    description,
	})
	require.NoError(t, err)
	return ticket
}

package telegram

import (
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	"github.com/spec-kit/crm-intake-bot/internal/service"
)

const testGroupChatID int64 = -1001

var testAdminIDs = []int64{101, 102}

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   *tele.SendOptions
}

type editedMessage struct {
	ChatID    int64
	MessageID string
	Text      string
}

// fakeMessenger stands in for *tele.Bot and records outbound calls.
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edited  []editedMessage
	sendErr error
	editErr error
}

func (m *fakeMessenger) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	chatID, err := strconv.ParseInt(to.Recipient(), 10, 64)
	if err != nil {
		return nil, err
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: what.(string), Opts: sendOpts(opts)})
	return &tele.Message{ID: m.nextID, Chat: &tele.Chat{ID: chatID}}, nil
}

func (m *fakeMessenger) Edit(msg tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	msgID, chatID := msg.MessageSig()
	m.edited = append(m.edited, editedMessage{ChatID: chatID, MessageID: msgID, Text: what.(string)})
	return &tele.Message{}, nil
}

func (m *fakeMessenger) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMessenger) editedCopies() []editedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]editedMessage(nil), m.edited...)
}

func sendOpts(opts []interface{}) *tele.SendOptions {
	for _, opt := range opts {
		if o, ok := opt.(*tele.SendOptions); ok {
			return o
		}
	}
	return nil
}

type botFixture struct {
	messenger *fakeMessenger
	sessions  repository.SessionRepository
	users     repository.UserRepository
	tickets   *service.TicketService
	intake    *service.IntakeService
	dialogue  *Dialogue
	panel     *AdminPanel
}

func setupBot(t *testing.T, catalog config.Catalog) *botFixture {
	t.Helper()
	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher(logger)
	messenger := &fakeMessenger{}

	ticketRepo, err := repository.NewMemoryTicketRepository("")
	require.NoError(t, err)
	users, err := repository.NewFileUserRepository("")
	require.NoError(t, err)
	submissions, err := repository.NewSheetSubmissionRepository(filepath.Join(t.TempDir(), "submissions.xlsx"))
	require.NoError(t, err)
	sessions := repository.NewMemorySessionRepository(0)

	service.NewNotificationService(service.NotificationDependencies{
		Surface:     NewSurface(messenger),
		TicketRepo:  ticketRepo,
		Dispatcher:  dispatcher,
		AdminIDs:    testAdminIDs,
		GroupChatID: testGroupChatID,
	}).RegisterHandlers()

	tickets := service.NewTicketService(service.TicketDependencies{TicketRepo: ticketRepo, Dispatcher: dispatcher})
	intake := service.NewIntakeService(service.IntakeDependencies{
		UserRepo:       users,
		SubmissionRepo: submissions,
		TicketService:  tickets,
		Catalog:        catalog,
	})
	admin := service.NewAdminService(service.AdminDependencies{
		AdminIDs:       testAdminIDs,
		UserRepo:       users,
		SubmissionRepo: submissions,
		TicketRepo:     ticketRepo,
	})

	return &botFixture{
		messenger: messenger,
		sessions:  sessions,
		users:     users,
		tickets:   tickets,
		intake:    intake,
		dialogue: NewDialogue(DialogueDependencies{
			Sessions: sessions,
			Intake:   intake,
			Catalog:  catalog,
		}),
		panel: NewAdminPanel(admin, tickets, catalog),
	}
}

// buttons flattens an inline keyboard into unique|data pairs.
func buttons(markup *tele.ReplyMarkup) []string {
	if markup == nil {
		return nil
	}
	var out []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			out = append(out, btn.Unique+"|"+btn.Data)
		}
	}
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/observability"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
)

// ClaimAction is the "take" affordance attached to a new-ticket message.
type ClaimAction struct {
	TicketID int64
}

// MessagingSurface is the chat transport used for notifications.
type MessagingSurface interface {
	Send(ctx context.Context, chatID int64, text string, action *ClaimAction) (domain.MessageRef, error)
	Edit(ctx context.Context, ref domain.MessageRef, text string) error
}

// Delivery operations.
const (
	DeliverySend = "send"
	DeliveryEdit = "edit"
)

// DeliveryResult is the outcome of one send or edit against one surface.
type DeliveryResult struct {
	Surface domain.SurfaceKey
	Ref     domain.MessageRef
	Err     error
}

// OK reports whether the delivery succeeded.
func (r DeliveryResult) OK() bool {
	return r.Err == nil
}

// DeliveryReport aggregates the per-surface results of one fan-out.
type DeliveryReport struct {
	Op      string
	Results []DeliveryResult
}

// Failed returns the number of failed deliveries.
func (r DeliveryReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Delivered returns the number of successful deliveries.
func (r DeliveryReport) Delivered() int {
	return len(r.Results) - r.Failed()
}

type notificationTarget struct {
	surface domain.SurfaceKey
	chatID  int64
}

// NotificationService delivers ticket notices to every administrator and
// the optional group, and keeps the delivered copies in sync.
type NotificationService struct {
	surface     MessagingSurface
	tickets     repository.TicketRepository
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	targets     []notificationTarget
	sendTimeout time.Duration
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Surface     MessagingSurface
	TicketRepo  repository.TicketRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	AdminIDs    []int64
	GroupChatID int64
	SendTimeout time.Duration
}

// NewNotificationService creates the service. The administrator set and
// group are fixed for the lifetime of the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	targets := make([]notificationTarget, 0, len(deps.AdminIDs)+1)
	for _, id := range deps.AdminIDs {
		targets = append(targets, notificationTarget{surface: domain.AdminSurface(id), chatID: id})
	}
	if deps.GroupChatID != 0 {
		targets = append(targets, notificationTarget{surface: domain.SurfaceGroup, chatID: deps.GroupChatID})
	}
	return &NotificationService{
		surface:     deps.Surface,
		tickets:     deps.TicketRepo,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		metrics:     deps.Metrics,
		targets:     targets,
		sendTimeout: deps.SendTimeout,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketClaimed, n.handleTicketClaimed)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.Broadcast(ctx, payload.Ticket)
	return nil
}

func (n *NotificationService) handleTicketClaimed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketClaimedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.UpdateAllCopies(ctx, payload.Ticket, RenderTicket(payload.Ticket))
	return nil
}

// Broadcast sends the ticket to every configured surface and records each
// delivered copy. Failures are logged per surface and never abort the rest.
func (n *NotificationService) Broadcast(ctx context.Context, ticket domain.Ticket) DeliveryReport {
	report := DeliveryReport{Op: DeliverySend}
	text := RenderTicket(ticket)
	action := &ClaimAction{TicketID: ticket.ID}

	for _, target := range n.targets {
		ref, err := n.send(ctx, target.chatID, text, action)
		n.metrics.RecordDelivery(DeliverySend, err == nil)
		report.Results = append(report.Results, DeliveryResult{Surface: target.surface, Ref: ref, Err: err})
		if err != nil {
			n.logger.Warn("ticket notification not delivered",
				zap.Int64("ticket_id", ticket.ID),
				zap.String("surface", string(target.surface)),
				zap.Int64("chat_id", target.chatID),
				zap.Error(err))
			continue
		}
		if err := n.tickets.RecordNotificationCopy(ctx, ticket.ID, target.surface, ref); err != nil {
			level := zap.ErrorLevel
			if errors.Is(err, domain.ErrTicketNotFound) {
				level = zap.WarnLevel
			}
			n.logger.Log(level, "notification copy not recorded",
				zap.Int64("ticket_id", ticket.ID),
				zap.String("surface", string(target.surface)),
				zap.Error(err))
		}
	}

	n.catchUpWithClaim(ctx, ticket.ID, report)

	if failed := report.Failed(); failed > 0 {
		n.logger.Info("ticket broadcast partially failed",
			zap.Int64("ticket_id", ticket.ID),
			zap.Int("delivered", report.Delivered()),
			zap.Int("failed", failed))
	}
	return report
}

// catchUpWithClaim edits copies delivered by this broadcast when the ticket
// was claimed while the broadcast was still running; the claim's own update
// only saw the copies recorded before it committed.
func (n *NotificationService) catchUpWithClaim(ctx context.Context, ticketID int64, report DeliveryReport) {
	if report.Delivered() == 0 {
		return
	}
	current, err := n.tickets.GetByID(ctx, ticketID)
	if err != nil || !current.IsClaimed() {
		return
	}
	text := RenderTicket(*current)
	for _, res := range report.Results {
		if !res.OK() {
			continue
		}
		err := n.edit(ctx, res.Ref, text)
		n.metrics.RecordDelivery(DeliveryEdit, err == nil)
		if err != nil {
			n.logger.Warn("late copy not updated",
				zap.Int64("ticket_id", ticketID),
				zap.String("surface", string(res.Surface)),
				zap.Error(err))
		}
	}
}

// UpdateAllCopies overwrites every recorded copy of the ticket with text.
// Each surface succeeds or fails independently.
func (n *NotificationService) UpdateAllCopies(ctx context.Context, ticket domain.Ticket, text string) DeliveryReport {
	report := DeliveryReport{Op: DeliveryEdit}
	for _, surface := range sortedSurfaces(ticket.Copies) {
		ref := ticket.Copies[surface]
		err := n.edit(ctx, ref, text)
		n.metrics.RecordDelivery(DeliveryEdit, err == nil)
		report.Results = append(report.Results, DeliveryResult{Surface: surface, Ref: ref, Err: err})
		if err != nil {
			n.logger.Warn("ticket copy not updated",
				zap.Int64("ticket_id", ticket.ID),
				zap.String("surface", string(surface)),
				zap.Int64("chat_id", ref.ChatID),
				zap.Int("message_id", ref.MessageID),
				zap.Error(err))
		}
	}
	if failed := report.Failed(); failed > 0 {
		n.logger.Info("ticket copies partially updated",
			zap.Int64("ticket_id", ticket.ID),
			zap.Int("updated", report.Delivered()),
			zap.Int("failed", failed))
	}
	return report
}

func (n *NotificationService) send(ctx context.Context, chatID int64, text string, action *ClaimAction) (domain.MessageRef, error) {
	if n.surface == nil {
		return domain.MessageRef{}, errors.New("no messaging surface configured")
	}
	ctx, cancel := n.bounded(ctx)
	defer cancel()
	return n.surface.Send(ctx, chatID, text, action)
}

func (n *NotificationService) edit(ctx context.Context, ref domain.MessageRef, text string) error {
	if n.surface == nil {
		return errors.New("no messaging surface configured")
	}
	ctx, cancel := n.bounded(ctx)
	defer cancel()
	return n.surface.Edit(ctx, ref, text)
}

func (n *NotificationService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.sendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.sendTimeout)
}

func sortedSurfaces(copies map[domain.SurfaceKey]domain.MessageRef) []domain.SurfaceKey {
	keys := make([]domain.SurfaceKey, 0, len(copies))
	for key := range copies {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/observability"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// TicketService coordinates ticket creation and claiming.
type TicketService struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Type           domain.TicketType
	ReporterName   string
	ReporterModule string
	Category       string
	Description    string
}

// ClaimOutcome enumerates the results of a claim attempt.
type ClaimOutcome string

const (
	ClaimConfirmed ClaimOutcome = "confirmed"
	ClaimRejected  ClaimOutcome = "rejected"
	ClaimNotFound  ClaimOutcome = "not_found"
)

// ClaimResult reports a claim attempt. Ticket is set when Confirmed;
// HeldBy and HeldByID name the current holder when Rejected.
type ClaimResult struct {
	Outcome  ClaimOutcome
	Ticket   *domain.Ticket
	HeldBy   string
	HeldByID int64
}

// HeldBySelf reports whether a rejected claim lost to the same claimant.
func (r ClaimResult) HeldBySelf(claimant domain.Claimant) bool {
	return r.Outcome == ClaimRejected && r.HeldByID != 0 && r.HeldByID == claimant.ID
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
	}
}

// CreateTicket persists a new ticket and then announces it. The returned
// ticket is valid regardless of how many notifications were delivered.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	if !input.Type.Valid() {
		return nil, apperrors.NewValidationError("unknown ticket type", map[string]any{"type": input.Type})
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.NewValidationError("description is required", nil)
	}
	category := strings.TrimSpace(input.Category)
	if input.Type == domain.TicketTypeSuggestion || category == "" {
		category = domain.CategoryNone
	}

	ticket, err := s.tickets.Create(ctx, repository.TicketCreate{
		Type:           input.Type,
		ReporterName:   strings.TrimSpace(input.ReporterName),
		ReporterModule: strings.TrimSpace(input.ReporterModule),
		Category:       category,
		Description:    description,
	})
	if err != nil {
		s.logger.Error("ticket not created", zap.String("type", string(input.Type)), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	s.metrics.RecordTicketCreated(string(ticket.Type))
	s.logger.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("type", string(ticket.Type)),
		zap.String("reporter", ticket.ReporterName))

	s.publishEvent(ctx, events.NewEvent(events.EventTicketCreated, ticket.ID, events.TicketCreatedPayload{
		Ticket: ticket.Clone(),
	}))
	return ticket, nil
}

// GetTicket returns a ticket by ID.
func (s *TicketService) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTicketNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

// ClaimTicket attempts to move the ticket from NEW to IN_PROGRESS on behalf
// of claimant. Losing a race is a Rejected result, not an error; only
// persistence failures are returned as errors. Copies are updated after
// the claim is committed and their failures never change the result.
func (s *TicketService) ClaimTicket(ctx context.Context, id int64, claimant domain.Claimant) (ClaimResult, error) {
	ticket, err := s.tickets.Claim(ctx, id, claimant)
	if err != nil {
		var rejected *domain.AlreadyClaimedError
		switch {
		case errors.As(err, &rejected):
			s.metrics.RecordClaim(observability.ClaimRejected)
			s.logger.Info("ticket claim rejected",
				zap.Int64("ticket_id", id),
				zap.Int64("claimant_id", claimant.ID),
				zap.String("held_by", rejected.ClaimedBy))
			return ClaimResult{Outcome: ClaimRejected, HeldBy: rejected.ClaimedBy, HeldByID: rejected.ClaimedByID}, nil
		case errors.Is(err, domain.ErrTicketNotFound):
			s.metrics.RecordClaim(observability.ClaimNotFound)
			s.logger.Info("claim on unknown ticket", zap.Int64("ticket_id", id), zap.Int64("claimant_id", claimant.ID))
			return ClaimResult{Outcome: ClaimNotFound}, nil
		default:
			s.metrics.RecordClaim(observability.ClaimFailed)
			s.logger.Error("ticket claim failed", zap.Int64("ticket_id", id), zap.Error(err))
			return ClaimResult{}, apperrors.NewInternalError(err)
		}
	}

	s.metrics.RecordClaim(observability.ClaimConfirmed)
	s.logger.Info("ticket claimed",
		zap.Int64("ticket_id", ticket.ID),
		zap.Int64("claimant_id", claimant.ID),
		zap.String("claimant", claimant.Name))

	s.publishEvent(ctx, events.NewEvent(events.EventTicketClaimed, ticket.ID, events.TicketClaimedPayload{
		Ticket:      ticket.Clone(),
		ClaimedBy:   ticket.ClaimedBy,
		ClaimedByID: ticket.ClaimedByID,
	}))
	return ClaimResult{Outcome: ClaimConfirmed, Ticket: ticket}, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}

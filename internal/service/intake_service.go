package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// MinNameLength is the shortest accepted full name, in characters.
const MinNameLength = 3

// ErrNotRegistered is returned for submissions from users without a profile.
var ErrNotRegistered = errors.New("user is not registered")

// IntakeService handles registration and turns finished submissions into
// tickets.
type IntakeService struct {
	users       repository.UserRepository
	submissions repository.SubmissionRepository
	tickets     *TicketService
	catalog     config.Catalog
	logger      *zap.Logger
	now         func() time.Time
}

// IntakeDependencies bundles collaborators for the intake service.
type IntakeDependencies struct {
	UserRepo       repository.UserRepository
	SubmissionRepo repository.SubmissionRepository
	TicketService  *TicketService
	Catalog        config.Catalog
	Logger         *zap.Logger
}

// NewIntakeService creates the service.
func NewIntakeService(deps IntakeDependencies) *IntakeService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		users:       deps.UserRepo,
		submissions: deps.SubmissionRepo,
		tickets:     deps.TicketService,
		catalog:     deps.Catalog,
		logger:      logger,
		now:         time.Now,
	}
}

// NormalizeName trims name and reports whether it is long enough.
func NormalizeName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, utf8.RuneCountInString(name) >= MinNameLength
}

// Profile returns the profile of userID or ErrNotRegistered.
func (s *IntakeService) Profile(ctx context.Context, userID int64) (*domain.Profile, error) {
	profile, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, apperrors.NewInternalError(err)
	}
	return profile, nil
}

// HasCurrentModule reports whether the profile's module is still offered.
func (s *IntakeService) HasCurrentModule(profile *domain.Profile) bool {
	return profile != nil && s.catalog.HasModule(profile.Module)
}

// Register creates or replaces the profile of userID.
func (s *IntakeService) Register(ctx context.Context, userID int64, name, module string) (*domain.Profile, error) {
	name, ok := NormalizeName(name)
	if !ok {
		return nil, apperrors.NewValidationError("name is too short", map[string]any{"min_length": MinNameLength})
	}
	if !s.catalog.HasModule(module) {
		return nil, apperrors.NewValidationError("unknown module", map[string]any{"module": module})
	}
	profile := &domain.Profile{UserID: userID, Name: name, Module: module}
	if err := s.users.Upsert(ctx, profile); err != nil {
		s.logger.Error("profile not saved", zap.Int64("user_id", userID), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	s.logger.Info("user registered", zap.Int64("user_id", userID), zap.String("module", module))
	return profile, nil
}

// SubmitError files an error report in category.
func (s *IntakeService) SubmitError(ctx context.Context, userID int64, category, description string) (*domain.Ticket, error) {
	return s.submit(ctx, userID, domain.TicketTypeError, category, description)
}

// SubmitSuggestion files a suggestion.
func (s *IntakeService) SubmitSuggestion(ctx context.Context, userID int64, description string) (*domain.Ticket, error) {
	return s.submit(ctx, userID, domain.TicketTypeSuggestion, domain.CategoryNone, description)
}

func (s *IntakeService) submit(ctx context.Context, userID int64, ticketType domain.TicketType, category, description string) (*domain.Ticket, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperrors.NewValidationError("description is required", nil)
	}
	if category == "" {
		category = domain.CategoryNone
	}

	if s.submissions != nil {
		if err := s.submissions.Append(ctx, domain.Submission{
			SubmittedAt: s.now(),
			UserID:      userID,
			Name:        profile.Name,
			Module:      profile.Module,
			Type:        ticketType,
			Category:    category,
			Description: description,
		}); err != nil {
			s.logger.Error("submission not appended",
				zap.Int64("user_id", userID),
				zap.String("type", string(ticketType)),
				zap.Error(err))
		}
	}

	return s.tickets.CreateTicket(ctx, TicketCreateInput{
		Type:           ticketType,
		ReporterName:   profile.Name,
		ReporterModule: profile.Module,
		Category:       category,
		Description:    description,
	})
}

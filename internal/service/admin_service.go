package service

import (
	"context"
	"errors"
	"io"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// ExportFileNameLayout formats the download name of the submissions export.
const ExportFileNameLayout = "crm_support_20060102_1504.xlsx"

// Stats summarizes submissions, users and ticket states.
type Stats struct {
	Submissions       int `json:"submissions"`
	Errors            int `json:"errors"`
	Suggestions       int `json:"suggestions"`
	Users             int `json:"users"`
	TicketsNew        int `json:"tickets_new"`
	TicketsInProgress int `json:"tickets_in_progress"`
}

// AdminService serves the administrator panel.
type AdminService struct {
	adminIDs    map[int64]struct{}
	users       repository.UserRepository
	submissions repository.SubmissionRepository
	tickets     repository.TicketRepository
}

// AdminDependencies bundles collaborators for the admin service.
type AdminDependencies struct {
	AdminIDs       []int64
	UserRepo       repository.UserRepository
	SubmissionRepo repository.SubmissionRepository
	TicketRepo     repository.TicketRepository
}

// NewAdminService creates the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	ids := make(map[int64]struct{}, len(deps.AdminIDs))
	for _, id := range deps.AdminIDs {
		ids[id] = struct{}{}
	}
	return &AdminService{
		adminIDs:    ids,
		users:       deps.UserRepo,
		submissions: deps.SubmissionRepo,
		tickets:     deps.TicketRepo,
	}
}

// IsAdmin reports whether id is in the administrator set.
func (s *AdminService) IsAdmin(id int64) bool {
	_, ok := s.adminIDs[id]
	return ok
}

// Stats gathers the panel statistics.
func (s *AdminService) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if s.submissions != nil {
		counts, err := s.submissions.Counts(ctx)
		if err != nil {
			return Stats{}, apperrors.NewInternalError(err)
		}
		stats.Submissions = counts.Total
		stats.Errors = counts.Errors
		stats.Suggestions = counts.Suggestions
	}
	users, err := s.users.Count(ctx)
	if err != nil {
		return Stats{}, apperrors.NewInternalError(err)
	}
	stats.Users = users

	byStatus, err := s.tickets.CountByStatus(ctx)
	if err != nil {
		return Stats{}, apperrors.NewInternalError(err)
	}
	stats.TicketsNew = byStatus[domain.TicketStatusNew]
	stats.TicketsInProgress = byStatus[domain.TicketStatusInProgress]
	return stats, nil
}

// Users lists registered profiles in registration order.
func (s *AdminService) Users(ctx context.Context) ([]domain.Profile, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return users, nil
}

// Export writes the submissions workbook to w.
func (s *AdminService) Export(ctx context.Context, w io.Writer) error {
	if s.submissions == nil {
		return apperrors.NewNotFound("submissions", nil)
	}
	if err := s.submissions.Export(ctx, w); err != nil {
		if errors.Is(err, repository.ErrNoSubmissions) {
			return apperrors.NewNotFound("submissions", nil)
		}
		return apperrors.NewInternalError(err)
	}
	return nil
}

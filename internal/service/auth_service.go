package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/spec-kit/crm-intake-bot/internal/auth"
	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	apperrors "github.com/spec-kit/crm-intake-bot/pkg/util/errorutil"
)

// AuthService issues API tokens to administrators.
type AuthService struct {
	users        repository.UserRepository
	tokenMgr     *auth.TokenManager
	admins       *AdminService
	passwordHash string
	compare      func(hash, password string) error
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo     repository.UserRepository
	AdminService *AdminService
	TokenManager *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	tokens := deps.TokenManager
	if tokens == nil {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes)
	}
	return &AuthService{
		users:        deps.UserRepo,
		tokenMgr:     tokens,
		admins:       deps.AdminService,
		passwordHash: cfg.AdminPasswordHash,
		compare:      auth.ComparePassword,
	}
}

// LoginAdmin authenticates an administrator by chat identity and the shared
// API password. The token carries the name recorded on claims.
func (s *AuthService) LoginAdmin(ctx context.Context, adminID int64, password string) (domain.AdminPrincipal, string, error) {
	if s.passwordHash == "" {
		return domain.AdminPrincipal{}, "", apperrors.NewForbidden("admin API login disabled")
	}
	// The hash is checked for every caller so response time does not tell
	// admins from other IDs.
	passwordErr := s.compare(s.passwordHash, password)
	if !s.admins.IsAdmin(adminID) || passwordErr != nil {
		return domain.AdminPrincipal{}, "", apperrors.NewUnauthorized("invalid credentials")
	}

	name, err := s.displayName(ctx, adminID)
	if err != nil {
		return domain.AdminPrincipal{}, "", apperrors.NewInternalError(err)
	}
	token, exp, err := s.tokenMgr.GenerateToken(adminID, name)
	if err != nil {
		return domain.AdminPrincipal{}, "", apperrors.NewInternalError(err)
	}
	return domain.AdminPrincipal{AdminID: adminID, Name: name, ExpiresAt: exp}, token, nil
}

// displayName prefers the registered profile name of the administrator.
func (s *AuthService) displayName(ctx context.Context, adminID int64) (string, error) {
	if s.users != nil {
		profile, err := s.users.GetByID(ctx, adminID)
		switch {
		case err == nil:
			return profile.Name, nil
		case !errors.Is(err, repository.ErrUserNotFound):
			return "", err
		}
	}
	return "admin " + strconv.FormatInt(adminID, 10), nil
}

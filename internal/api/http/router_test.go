package http

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/api/http/handlers"
	"github.com/spec-kit/crm-intake-bot/internal/auth"
	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/observability"
	"github.com/spec-kit/crm-intake-bot/internal/persistence"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	"github.com/spec-kit/crm-intake-bot/internal/service"
)

const testPassword = "letmein"

type apiFixture struct {
	app     *fiber.App
	tickets *service.TicketService
	intake  *service.IntakeService
}

var testJWTSecret = strings.Repeat("s", config.MinJWTSecretLength)

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	hash, err := auth.HashPassword(testPassword, 4)
	require.NoError(t, err)
	return setupAPIWith(t, config.AuthConfig{JWTSecret: testJWTSecret, AdminPasswordHash: hash})
}

func setupAPIWith(t *testing.T, authCfg config.AuthConfig) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	adminIDs := []int64{101, 102}

	ticketRepo, err := repository.NewMemoryTicketRepository("")
	require.NoError(t, err)
	userRepo, err := repository.NewFileUserRepository("")
	require.NoError(t, err)
	submissionRepo, err := repository.NewSheetSubmissionRepository(filepath.Join(t.TempDir(), "s.xlsx"))
	require.NoError(t, err)

	ticketSvc := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Dispatcher: events.NewInMemoryDispatcher(logger),
		Metrics:    metrics,
	})
	adminSvc := service.NewAdminService(service.AdminDependencies{
		AdminIDs:       adminIDs,
		UserRepo:       userRepo,
		SubmissionRepo: submissionRepo,
		TicketRepo:     ticketRepo,
	})
	tokens := auth.NewTokenManager(authCfg.JWTSecret, 10)
	authSvc := service.NewAuthService(authCfg, service.AuthDependencies{
		UserRepo:     userRepo,
		AdminService: adminSvc,
		TokenManager: tokens,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("crm-intake-bot", "test", &persistence.Postgres{}, &persistence.Redis{}),
		Metrics:        handlers.MetricsHandler(metrics),
		Auth:           handlers.NewAuthHandler(authSvc),
		Tickets:        handlers.NewTicketsHandler(ticketSvc),
		Admin:          handlers.NewAdminHandler(adminSvc),
		AuthMiddleware: NewAdminAuth(authCfg, tokens, adminSvc.IsAdmin),
	})

	return &apiFixture{
		app:     app,
		tickets: ticketSvc,
		intake: service.NewIntakeService(service.IntakeDependencies{
			UserRepo:       userRepo,
			SubmissionRepo: submissionRepo,
			TicketService:  ticketSvc,
			Catalog:        config.DefaultCatalog(),
		}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) (*nethttp.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (f *apiFixture) login(t *testing.T, adminID int64) string {
	t.Helper()
	resp, body := f.do(t, nethttp.MethodPost, "/auth/login", "",
		`{"admin_id":`+jsonInt(adminID)+`,"password":"`+testPassword+`"}`)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	return data["auth"].(map[string]any)["token"].(string)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (f *apiFixture) createTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), service.TicketCreateInput{
		Type:           domain.TicketTypeError,
		ReporterName:   "Ivanov Ivan",
		ReporterModule: "Sales",
		Category:       "CardIssue",
		Description:    "Login fails",
	})
	require.NoError(t, err)
	return ticket
}

func TestHealth(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.do(t, nethttp.MethodGet, "/health/live", "", "")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, body = f.do(t, nethttp.MethodGet, "/health/ready", "", "")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "disabled", deps["postgres"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupAPI(t)
	f.do(t, nethttp.MethodGet, "/health/live", "", "")

	resp, _ := f.do(t, nethttp.MethodGet, "/metrics", "", "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := setupAPI(t)

	resp, body := f.do(t, nethttp.MethodPost, "/auth/login", "", `{"admin_id":101,"password":"wrong"}`)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"])

	resp, _ = f.do(t, nethttp.MethodPost, "/auth/login", "", `{"password":"x"}`)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}

func TestTickets_RequireToken(t *testing.T) {
	f := setupAPI(t)

	resp, _ := f.do(t, nethttp.MethodGet, "/tickets/1", "", "")
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}

func TestTickets_DefaultConfigRefusesForgedToken(t *testing.T) {
	t.Setenv("ADMIN_IDS", "101")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("AUTH_ADMIN_PASSWORD_HASH", "")
	cfg, err := config.Load()
	require.NoError(t, err)

	f := setupAPIWith(t, cfg.Auth)
	ticket := f.createTicket(t)
	forged, _, err := auth.NewTokenManager("dev-secret", 60).GenerateToken(101, "Mallory")
	require.NoError(t, err)

	path := "/tickets/" + jsonInt(ticket.ID)
	resp, _ := f.do(t, nethttp.MethodPost, path+"/claim", forged, "")
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, nethttp.MethodGet, "/admin/users", forged, "")
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, nethttp.MethodPost, "/auth/login", "", `{"admin_id":101,"password":"anything"}`)
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)

	stored, err := f.tickets.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, stored.Status)
	assert.Empty(t, stored.ClaimedBy)
}

func TestTickets_RejectsTokenFromOtherSecret(t *testing.T) {
	f := setupAPI(t)
	ticket := f.createTicket(t)
	forged, _, err := auth.NewTokenManager("dev-secret", 60).GenerateToken(101, "Mallory")
	require.NoError(t, err)

	resp, _ := f.do(t, nethttp.MethodPost, "/tickets/"+jsonInt(ticket.ID)+"/claim", forged, "")
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}

func TestTickets_GetAndClaim(t *testing.T) {
	f := setupAPI(t)
	ticket := f.createTicket(t)
	path := "/tickets/" + jsonInt(ticket.ID)
	alice := f.login(t, 101)
	bob := f.login(t, 102)

	resp, body := f.do(t, nethttp.MethodGet, path, alice, "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "NEW", body["data"].(map[string]any)["status"])

	resp, body = f.do(t, nethttp.MethodPost, path+"/claim", alice, "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "confirmed", data["outcome"])
	assert.Equal(t, "IN_PROGRESS", data["ticket"].(map[string]any)["status"])

	resp, body = f.do(t, nethttp.MethodPost, path+"/claim", bob, "")
	require.Equal(t, nethttp.StatusConflict, resp.StatusCode)
	data = body["data"].(map[string]any)
	assert.Equal(t, "rejected", data["outcome"])
	assert.Equal(t, "admin 101", data["held_by"])
}

func TestTickets_NotFoundAndBadID(t *testing.T) {
	f := setupAPI(t)
	token := f.login(t, 101)

	resp, _ := f.do(t, nethttp.MethodPost, "/tickets/999/claim", token, "")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, nethttp.MethodGet, "/tickets/999", token, "")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, nethttp.MethodGet, "/tickets/abc", token, "")
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_StatsUsersExport(t *testing.T) {
	f := setupAPI(t)
	token := f.login(t, 101)
	ctx := context.Background()

	resp, _ := f.do(t, nethttp.MethodGet, "/admin/export", token, "")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	module := config.DefaultCatalog().Modules[0].Name
	_, err := f.intake.Register(ctx, 7, "Ivanov Ivan", module)
	require.NoError(t, err)
	_, err = f.intake.SubmitError(ctx, 7, "Другое", "Login fails")
	require.NoError(t, err)

	resp, body := f.do(t, nethttp.MethodGet, "/admin/stats", token, "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	stats := body["data"].(map[string]any)
	assert.EqualValues(t, 1, stats["submissions"])
	assert.EqualValues(t, 1, stats["errors"])
	assert.EqualValues(t, 1, stats["users"])
	assert.EqualValues(t, 1, stats["tickets_new"])

	resp, body = f.do(t, nethttp.MethodGet, "/admin/users", token, "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, _ = f.do(t, nethttp.MethodGet, "/admin/export", token, "")
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "crm_support_")
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
}

func TestUnknownRoute(t *testing.T) {
	f := setupAPI(t)
	resp, body := f.do(t, nethttp.MethodGet, "/nope", "", "")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

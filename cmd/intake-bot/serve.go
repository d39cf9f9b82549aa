package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/crm-intake-bot/internal/api/http"
	"github.com/spec-kit/crm-intake-bot/internal/api/http/handlers"
	"github.com/spec-kit/crm-intake-bot/internal/auth"
	"github.com/spec-kit/crm-intake-bot/internal/config"
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/observability"
	"github.com/spec-kit/crm-intake-bot/internal/persistence"
	"github.com/spec-kit/crm-intake-bot/internal/repository"
	"github.com/spec-kit/crm-intake-bot/internal/service"
	"github.com/spec-kit/crm-intake-bot/internal/telegram"
	"github.com/spec-kit/crm-intake-bot/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

type stores struct {
	tickets     repository.TicketRepository
	users       repository.UserRepository
	submissions repository.SubmissionRepository
	sessions    repository.SessionRepository
}

// openStores prefers Postgres and Redis when configured and falls back to
// files under the data directory and process memory.
func openStores(cfg *config.Config, pg *persistence.Postgres, rdb *persistence.Redis, logger *zap.Logger) (*stores, error) {
	submissions, err := repository.NewSheetSubmissionRepository(cfg.Storage.SubmissionsFile)
	if err != nil {
		return nil, err
	}
	s := &stores{submissions: submissions}

	if pg.Enabled() {
		s.tickets = repository.NewTicketRepository(pg.PoolHandle())
		s.users = repository.NewUserRepository(pg.PoolHandle())
	} else {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		if s.tickets, err = repository.NewMemoryTicketRepository(cfg.Storage.TicketsFile); err != nil {
			return nil, err
		}
		if s.users, err = repository.NewFileUserRepository(cfg.Storage.UsersFile); err != nil {
			return nil, err
		}
		logger.Info("using file-backed stores",
			zap.String("tickets", cfg.Storage.TicketsFile),
			zap.String("users", cfg.Storage.UsersFile))
	}

	if rdb.Enabled() {
		s.sessions = repository.NewRedisSessionRepository(rdb.Client, cfg.Redis.SessionTTL())
	} else {
		s.sessions = repository.NewMemorySessionRepository(cfg.Redis.SessionTTL())
	}
	return s, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		logger.Warn("ADMIN_IDS is empty; tickets will only reach the group chat")
	}
	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer rdb.Close()

	st, err := openStores(cfg, pg, rdb, logger)
	if err != nil {
		return err
	}

	api, err := telegram.NewAPI(cfg.Telegram, logger)
	if err != nil {
		return err
	}

	var bridge *events.NATSBridge
	if cfg.NATS.URL != "" {
		conn, err := events.ConnectNATS(cfg.NATS.URL, cfg.App.Name)
		if err != nil {
			return err
		}
		defer drainNATS(conn, logger)
		bridge = events.NewNATSBridge(conn, cfg.NATS.SubjectPrefix, logger)
		logger.Info("forwarding ticket events to NATS", zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Surface:     telegram.NewSurface(api),
		TicketRepo:  st.tickets,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
		AdminIDs:    cfg.Telegram.AdminIDs,
		GroupChatID: cfg.Telegram.GroupChatID,
		SendTimeout: cfg.Telegram.SendTimeout(),
	})
	worker.StartNotificationWorker(dispatcher, notifications, bridge)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: st.tickets,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})
	intakeService := service.NewIntakeService(service.IntakeDependencies{
		UserRepo:       st.users,
		SubmissionRepo: st.submissions,
		TicketService:  ticketService,
		Catalog:        catalog,
		Logger:         logger,
	})
	adminService := service.NewAdminService(service.AdminDependencies{
		AdminIDs:       cfg.Telegram.AdminIDs,
		UserRepo:       st.users,
		SubmissionRepo: st.submissions,
		TicketRepo:     st.tickets,
	})
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:     st.users,
		AdminService: adminService,
		TokenManager: tokens,
	})

	adminAuth := httptransport.NewAdminAuth(cfg.Auth, tokens, adminService.IsAdmin)
	if adminAuth == nil {
		logger.Info("admin HTTP API disabled; set AUTH_ADMIN_PASSWORD_HASH to enable it")
	}

	bot := telegram.NewBot(telegram.BotDependencies{
		API: api,
		Dialogue: telegram.NewDialogue(telegram.DialogueDependencies{
			Sessions: st.sessions,
			Intake:   intakeService,
			Catalog:  catalog,
			Logger:   logger,
		}),
		Admin:          telegram.NewAdminPanel(adminService, ticketService, catalog),
		Logger:         logger,
		HandlerTimeout: cfg.App.RequestTimeout(),
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rdb),
		Metrics:        handlers.MetricsHandler(metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Admin:          handlers.NewAdminHandler(adminService),
		AuthMiddleware: adminAuth,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		bot.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		logger.Error("http listener stopped", zap.Error(err))
		cancel()
		<-botDone
		return err
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-botDone
	return nil
}

func drainNATS(conn *nats.Conn, logger *zap.Logger) {
	if err := conn.Drain(); err != nil {
		logger.Warn("nats drain", zap.Error(err))
		conn.Close()
	}
}

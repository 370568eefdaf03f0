package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/sharifiasldev/support-service/internal/api/http"
	"github.com/sharifiasldev/support-service/internal/api/http/handlers"
	"github.com/sharifiasldev/support-service/internal/auth"
	"github.com/sharifiasldev/support-service/internal/config"
	"github.com/sharifiasldev/support-service/internal/contentstore"
	"github.com/sharifiasldev/support-service/internal/events"
	"github.com/sharifiasldev/support-service/internal/observability"
	"github.com/sharifiasldev/support-service/internal/persistence"
	"github.com/sharifiasldev/support-service/internal/repository"
	"github.com/sharifiasldev/support-service/internal/service"
)

const shutdownTimeout = 10 * time.Second

// stores is the driver-specific wiring behind the HTTP layer.
type stores struct {
	tickets      repository.TicketRepository
	accounts     service.Accounts
	resolver     auth.IdentityResolver
	dependencies []handlers.Dependency
	closers      []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func runServer(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  st.tickets,
		Dispatcher:  dispatcher,
		Departments: cfg.Tickets.Departments,
		Logger:      logger,
	})

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, st.dependencies...),
		Users:          handlers.NewUsersHandler(st.accounts),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(st.resolver),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("store_driver", string(cfg.Store.Driver)))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	if err := waitForShutdown(ctx, listenErr); err != nil {
		return fmt.Errorf("fiber listen: %w", err)
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	logger.Info("metrics at shutdown", zap.Any("requests", metrics.Snapshot().Requests))
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		st.closers = append(st.closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if _, err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				st.close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		users := repository.NewUserRepository(pg.PoolHandle())
		st.tickets = repository.NewTicketRepository(pg.PoolHandle())
		st.useLocalAccounts(cfg.Auth, users)
		st.dependencies = append(st.dependencies, handlers.Dependency{Name: "postgres", Pinger: pg})

	case config.StoreDriverMemory:
		logger.Warn("memory store driver selected; data is lost on restart")
		st.tickets = repository.NewMemoryTicketRepository()
		st.useLocalAccounts(cfg.Auth, repository.NewMemoryUserRepository())

	case config.StoreDriverContentStore:
		client := contentstore.NewClient(cfg.ContentStore, logger)

		var (
			locker    repository.Locker
			holdLimit time.Duration
		)
		if cfg.Store.LockBackend == "local" {
			logger.Warn("content store appends are serialized in-process only")
			locker = persistence.NewLocalLocker()
		} else {
			redis := persistence.NewRedis(ctx, cfg.Redis, logger)
			st.closers = append(st.closers, redis.Close)
			locker = persistence.NewRedisLocker(redis, cfg.Redis.LockTTL(), cfg.Redis.LockRetry(), logger)
			holdLimit = cfg.Redis.LockHoldLimit()
			st.dependencies = append(st.dependencies, handlers.Dependency{Name: "redis", Pinger: redis})
		}

		st.tickets = repository.NewContentStoreTicketRepository(client, cfg.ContentStore.TicketsCollection, locker, holdLimit)
		st.accounts = service.NewContentStoreAccounts(client)
		st.resolver = auth.NewContentStoreResolver(client)
		st.dependencies = append(st.dependencies, handlers.Dependency{Name: "content_store", Pinger: client})

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	return st, nil
}

func (s *stores) useLocalAccounts(authCfg config.AuthConfig, users repository.UserRepository) {
	tokens := auth.NewTokenManager(authCfg.JWTSecret, authCfg.AccessTokenTTLMinutes)
	s.accounts = service.NewAuthService(authCfg, users, tokens)
	s.resolver = auth.NewJWTResolver(tokens, users)
}

func waitForShutdown(ctx context.Context, listenErr <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return nil
	case <-ctx.Done():
		return nil
	case err := <-listenErr:
		return err
	}
}

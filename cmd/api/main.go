package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/cache"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := observability.InitSentry(cfg.Sentry, cfg.App.Env); err != nil {
		logger.Warn("failed to init sentry", zap.Error(err))
	}
	defer observability.FlushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	memberRepo := repository.NewMemberRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)
	categoryRepo := repository.NewCategoryRepository(pool)

	sweep := cfg.Auth.CacheSweepInterval()
	failures := cache.NewFailureTracker(cfg.Auth.LockoutWindow())
	lockouts := cache.NewLockoutCache(cfg.Auth.LockoutDuration())
	blacklist := cache.NewTokenBlacklist(cfg.Auth.BlacklistTTL())
	roleChanges := cache.NewStaleClaimRegistry(cfg.Auth.AccessTokenTTL())
	deactivation := cache.NewStaleClaimRegistry(cfg.Auth.AccessTokenTTL())
	failures.StartSweeper(sweep)
	lockouts.StartSweeper(sweep)
	blacklist.StartSweeper(sweep)
	roleChanges.StartSweeper(sweep)
	deactivation.StartSweeper(sweep)
	defer func() {
		failures.Stop()
		lockouts.Stop()
		blacklist.Stop()
		roleChanges.Stop()
		deactivation.Stop()
	}()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL(), cfg.Auth.PasswordResetTTL())
	gate := auth.NewGate(tokens, blacklist, roleChanges, deactivation)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		MemberRepo: memberRepo,
		Tokens:     tokens,
		Failures:   failures,
		Lockouts:   lockouts,
		Blacklist:  blacklist,
	}, logger)
	memberService := service.NewMemberService(memberRepo, roleChanges, deactivation, dispatcher, logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     ticketRepo,
		CommentRepo:    commentRepo,
		AttachmentRepo: attachmentRepo,
		CategoryRepo:   categoryRepo,
		MemberRepo:     memberRepo,
		Dispatcher:     dispatcher,
	})
	statsService := service.NewStatsService(pool)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:    handlers.NewAuthHandler(authService, cfg.Auth.RefreshTokenTTL(), metrics),
		Members: handlers.NewMembersHandler(memberService),
		Tickets: handlers.NewTicketsHandler(ticketService),
		Stats:   handlers.NewStatsHandler(statsService),
		Gate:    gate,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

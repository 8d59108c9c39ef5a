package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/condogate/condogate/internal/access"
	"github.com/condogate/condogate/internal/app"
	"github.com/condogate/condogate/internal/auth"
	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/observability"
	"github.com/condogate/condogate/internal/platform/cache"
	"github.com/condogate/condogate/internal/platform/db"
	"github.com/condogate/condogate/internal/roles"
	"github.com/condogate/condogate/internal/shared"
	"github.com/condogate/condogate/internal/users"
	"github.com/condogate/condogate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	validate := validator.New()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL, redisClient)
	authRepo := auth.NewRepo(pool)
	authService := auth.NewService(logger, authRepo, tokens, jobsClient)
	authenticator := auth.NewAuthenticator(logger, tokens, authRepo)
	az := authz.Middleware{Logger: logger}
	authHandler := auth.NewHandler(logger, authService, validate, authenticator, az)

	auditLogger := shared.NewAuditLogger(pool)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(logger, usersRepo, auditLogger)
	usersHandler := users.NewHandler(logger, usersService, validate, az)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(logger, rolesRepo)
	rolesHandler := roles.NewHandler(logger, rolesService, validate, az)

	var detector access.Detector
	if cfg.VisionConfigured() {
		detector = access.NewHTTPDetector(cfg.VisionURL, cfg.VisionAPIKey, &http.Client{Timeout: 15 * time.Second})
	}
	accessRepo := access.NewRepository(pool)
	accessService := access.NewService(logger, accessRepo, detector, redisClient, jobsClient)
	accessHandler := access.NewHandler(logger, accessService, validate, az)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Authn:   authenticator,
		Auth:    authHandler,
		Users:   usersHandler,
		Roles:   rolesHandler,
		Access:  accessHandler,
		Jobs:    jobHandler,
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

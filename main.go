package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bosted-app/backend/internal/audit"
	"github.com/bosted-app/backend/internal/client"
	"github.com/bosted-app/backend/internal/config"
	"github.com/bosted-app/backend/internal/db"
	"github.com/bosted-app/backend/internal/db/memory"
	"github.com/bosted-app/backend/internal/handler"
	"github.com/bosted-app/backend/internal/logging"
	"github.com/bosted-app/backend/internal/metrics"
	"github.com/bosted-app/backend/internal/migrate"
	"github.com/bosted-app/backend/internal/refresh"
	"github.com/bosted-app/backend/internal/service"
	"github.com/bosted-app/backend/internal/token"
	"github.com/bosted-app/backend/migrations"
)

// backend is what both store drivers provide.
type backend interface {
	service.CredentialStore
	refresh.Repository
	handler.Pinger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := token.NewSigner(token.Config{
		Key:      cfg.Auth.SigningKey,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	auditor, closeAuditor := newAuditor(cfg.Notify, logger)
	defer closeAuditor()

	m := metrics.New()
	tokens := refresh.NewStore(store,
		refresh.WithTTL(cfg.Auth.RefreshTTL),
		refresh.WithTimeout(cfg.Postgres.Timeout()),
	)
	authService, err := service.NewAuthService(store, tokens, signer,
		service.WithAccessTTL(cfg.Auth.AccessTTL),
		service.WithRevokeOnReplay(cfg.Auth.RevokeOnReplay),
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithAuditor(auditor),
	)
	if err != nil {
		return err
	}

	if cfg.Auth.AdminEmail != "" {
		if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	go tokens.RunPurger(ctx, cfg.Auth.PurgeInterval, cfg.Auth.RefreshRetention, logger, m.Purged)

	sameSite, err := config.ParseSameSite(cfg.Cookie.SameSite)
	if err != nil {
		return err
	}
	router := handler.NewRouter(handler.RouterDeps{
		Auth: authService,
		Cookie: handler.CookieConfig{
			Name:     cfg.Cookie.Name,
			Path:     cfg.Cookie.Path,
			Domain:   cfg.Cookie.Domain,
			Secure:   cfg.Cookie.Secure,
			SameSite: sameSite,
			MaxAge:   int(cfg.Auth.RefreshTTL.Seconds()),
		},
		Server:  cfg.Server,
		Store:   store,
		Metrics: m,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.Server.Addr), slog.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("using in-memory store; accounts and sessions are lost on restart")
		return memory.New(), func() {}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Store.AutoMigrate {
		sqlDB := stdlib.OpenDBFromPool(pool)
		applied, err := migrate.NewManager(sqlDB, migrations.FS).Up(ctx)
		_ = sqlDB.Close()
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		for _, name := range applied {
			logger.Info("applied migration", slog.String("name", name))
		}
	}

	return db.NewPostgres(pool, cfg.Postgres.Timeout()), pool.Close, nil
}

func newAuditor(cfg config.NotifyConfig, logger *slog.Logger) (audit.Recorder, func()) {
	auditLog := audit.NewLogger(logger)
	if !cfg.Enabled() {
		return auditLog, func() {}
	}
	slack := client.NewSlackClient(cfg.SlackBotToken, cfg.SlackChannelID, client.WithSlackEndpoint(cfg.SlackAPIURL))
	alerter := client.NewSecurityAlerter(slack, logger, cfg.QueueSize)
	logger.Info("slack security alerts enabled", slog.String("channel", cfg.SlackChannelID))
	return audit.NewFanout(auditLog, alerter), alerter.Close
}

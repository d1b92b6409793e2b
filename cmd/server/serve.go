package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/therealcybermattlee/ddcharacterbot/internal/auth"
	"github.com/therealcybermattlee/ddcharacterbot/internal/config"
	"github.com/therealcybermattlee/ddcharacterbot/internal/database"
	"github.com/therealcybermattlee/ddcharacterbot/internal/handler"
	"github.com/therealcybermattlee/ddcharacterbot/internal/logging"
	"github.com/therealcybermattlee/ddcharacterbot/internal/metrics"
	"github.com/therealcybermattlee/ddcharacterbot/internal/queue"
	"github.com/therealcybermattlee/ddcharacterbot/internal/ratelimit"
	"github.com/therealcybermattlee/ddcharacterbot/internal/repository"
	"github.com/therealcybermattlee/ddcharacterbot/internal/router"
	"github.com/therealcybermattlee/ddcharacterbot/internal/service"
	"github.com/therealcybermattlee/ddcharacterbot/internal/session"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logging.New(os.Stdout, cfg.LogLevel))
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		// Not fatal: the limiter fails open and authentication fails closed
		// until Redis answers.
		logging.LogWarn(ctx, logger, "redis ping failed", err, "addr", cfg.Redis.Address())
	}
	defer func() { _ = rdb.Close() }()

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		logging.LogError(ctx, logger, "mysql connect failed", err, "host", cfg.DB.Host)
		return err
	}
	defer func() { _ = db.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tokens, err := auth.NewTokenService([]byte(cfg.Token.Secret))
	if err != nil {
		return err
	}
	sessions := session.NewStore(rdb, cfg.Session.TTL, session.WithPrefix(cfg.Session.Prefix))
	limiter := ratelimit.New(rdb, ratelimit.WithPrefix(cfg.RateLimit.Prefix), ratelimit.WithLogger(logger))

	var events queue.Publisher = queue.NopPublisher{}
	if cfg.Audit.Enabled {
		p := queue.NewAMQPPublisher(cfg.Audit.URL, cfg.Audit.Queue)
		defer func() { _ = p.Close() }()
		events = p
	}
	if cfg.Audit.Consume {
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.Audit, logger); err != nil && !errors.Is(err, context.Canceled) {
				logging.LogError(ctx, logger, "audit consumer stopped", err)
			}
		}()
	}

	svc := service.NewAuthService(service.AuthDeps{
		Users:      repository.NewUserRepo(db),
		Sessions:   sessions,
		Passwords:  auth.NewPasswordService(),
		Tokens:     tokens,
		Events:     events,
		Metrics:    m,
		Logger:     logger,
		TokenTTL:   cfg.Token.TTL,
		SessionTTL: cfg.Session.TTL,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	deps := router.Deps{
		Auth:      handler.NewAuthHandler(svc, logger),
		Tokens:    tokens,
		Sessions:  sessions,
		Limiter:   limiter,
		RateLimit: cfg.RateLimit,
		Metrics:   m,
		Gatherer:  reg,
		Ready: map[string]handler.Pinger{
			"mysql": db,
			"redis": handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
		Logger: logger,
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, deps)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

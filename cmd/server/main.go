package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"hookrelay/internal/api"
	"hookrelay/internal/api/handlers"
	"hookrelay/internal/api/middleware"
	"hookrelay/internal/app"
	"hookrelay/internal/pkg/logger"
	"hookrelay/internal/platform/audit"
	"hookrelay/internal/platform/auth"
	"hookrelay/internal/platform/config"
	"hookrelay/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if closer := logger.Init(cfg.Logging); closer != nil {
		defer closer.Close()
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var authMiddleware *middleware.AuthMiddleware
	if cfg.Auth.Enabled {
		if cfg.Auth.Secret == "" {
			log.Fatal().Msg("auth.enabled requires auth.secret")
		}
		authMiddleware = middleware.NewAuthMiddleware(auth.NewTokenService(cfg.Auth))
	}

	pollLimiter := middleware.NewPollLimiter(cfg.Relay.MinPollInterval)
	defer pollLimiter.Stop()

	auditLogger := audit.NewLogger()
	deps := &api.Dependencies{
		HealthHandler:  handlers.NewHealthHandler(a.DB),
		RelayHandler:   handlers.NewRelayHandler(a.Service, a.Poller, auditLogger),
		HistoryHandler: handlers.NewHistoryHandler(a.History, a.Tracker, a.Poller, auditLogger),
		MetricsHandler: handlers.NewMetricsHandler(a.Relays),
		AuthMiddleware: authMiddleware,
		RelayLoader:    middleware.NewRelayLoader(a.Relays),
		PollLimiter:    pollLimiter,
	}

	if cfg.Server.Scheduler {
		go workers.NewPollScheduler(a.Poller, cfg.Relay.PollInterval).Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Bool("auth", cfg.Auth.Enabled).Bool("scheduler", cfg.Server.Scheduler).Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

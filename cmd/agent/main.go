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

	"rollcall/internal/bus"
	"rollcall/internal/config"
	"rollcall/internal/logger"
	"rollcall/internal/model"
	"rollcall/internal/service"
	"rollcall/internal/store"
	"rollcall/internal/transport/rest"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateAgent(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}
	lc := cfg.Logging.LoggerConfig()
	lc.Room = cfg.Agent.Room
	logger.Init(lc)
	log := logger.Component("main").With(slog.String("identity", cfg.Agent.Identity))

	ctx := context.Background()

	st, releaseStore, err := store.Open(ctx, cfg)
	if err != nil {
		log.Error("failed to open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer releaseStore()

	eventBus, releaseBus, err := bus.Open(ctx, cfg)
	if err != nil {
		log.Error("failed to open bus", slog.Any("err", err))
		os.Exit(1)
	}
	defer releaseBus()

	presence := service.NewPresenceService(service.PresenceConfig{
		Room:         cfg.Agent.Room,
		Identity:     cfg.Agent.Identity,
		Name:         cfg.Agent.Name,
		Role:         model.Role(cfg.Agent.Role),
		Authority:    cfg.Agent.Authority,
		TickInterval: cfg.Agent.TickInterval,
		OrphanWindow: cfg.Agent.OrphanWindow,
		SyncRetry: service.SyncRetry{
			Enabled: cfg.Agent.SyncRetry,
			Initial: cfg.Agent.SyncRetryInitial,
			Max:     cfg.Agent.SyncRetryMax,
		},
	}, eventBus, st, service.NewReportService(time.Local))
	if err := presence.Start(ctx); err != nil {
		log.Error("failed to start presence", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           rest.NewAgentRouter(presence, cfg.Agent.Room, cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("agent listening", slog.String("addr", cfg.HTTP.Addr), slog.String("bus", cfg.Agent.Bus))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// teardown publishes leaves, so it runs before the bus is released
	if err := presence.Close(shutdownCtx); err != nil {
		log.Error("teardown failed", slog.Any("err", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", slog.Any("err", err))
	}
	log.Info("agent exited")
}

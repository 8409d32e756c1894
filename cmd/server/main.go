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

	"github.com/redis/go-redis/v9"

	"rollcall/internal/cache"
	"rollcall/internal/config"
	"rollcall/internal/logger"
	"rollcall/internal/service"
	"rollcall/internal/transport/rest"
	"rollcall/internal/transport/ws"
)

// @title rollcall relay API
// @version 1.0
// @description Room registry and websocket relay for attendance agents
// @BasePath /v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateRelay(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Init(cfg.Logging.LoggerConfig())
	log := logger.Component("main")

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Error("failed to ping redis", slog.String("addr", cfg.Redis.Addr), slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))

	wsHub := ws.NewHub()

	authSvc := service.NewAuthService(cfg.Auth)
	roomSvc := service.NewRoomService(cache.NewRoomCache(rdb), authSvc)
	roomSvc.SetRelay(wsHub)

	router := rest.NewRouter(&rest.Container{
		AuthService:    authSvc,
		RoomService:    roomSvc,
		WSHub:          wsHub,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("relay listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down relay")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", slog.Any("err", err))
	}
	log.Info("relay exited")
}

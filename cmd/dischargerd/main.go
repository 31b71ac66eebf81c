package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relves/macaroons/internal/storage/sqlite"
	"github.com/relves/macaroons/pkg/bakery"
	"github.com/relves/macaroons/pkg/server"
)

func main() {
	basePath := getEnv("DATA_PATH", "./data")
	listenAddr := getEnv("LISTEN_ADDR", ":8080")
	location := getEnv("SERVICE_LOCATION", "dischargerd")

	levelStr := getEnv("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	store, err := sqlite.Open(basePath)
	if err != nil {
		logger.Error("failed to open root key store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service, err := bakery.NewService(store,
		bakery.WithLocation(location),
		bakery.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create discharge service", "error", err)
		os.Exit(1)
	}

	srv := server.New(service,
		server.WithAddr(listenAddr),
		server.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/redis/go-redis/v9"

	"github.com/sameer2210/CodeX-sub000/internal/chat"
	"github.com/sameer2210/CodeX-sub000/internal/review"
	"github.com/sameer2210/CodeX-sub000/internal/server"
	"github.com/sameer2210/CodeX-sub000/pkg/auth"
	"github.com/sameer2210/CodeX-sub000/pkg/config"
	"github.com/sameer2210/CodeX-sub000/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	store, closeStore, err := buildChatStore(logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize chat store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	verifier := auth.NewJWTVerifier(cfg.Server.Auth.JWTSecret)
	reviewer := review.NewHTTPReviewer(logger, cfg.Review.Endpoint, cfg.Review.APIKey, cfg.Review.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, verifier, store, reviewer)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

func buildChatStore(logger *slog.Logger, cfg *config.Config) (chat.Store, func(), error) {
	switch cfg.Chat.Store {
	case "sqlite":
		store, err := chat.NewSQLiteStore(cfg.Chat.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Chat history backed by sqlite", slog.String("path", cfg.Chat.SQLitePath))
		return store, func() { _ = store.Close() }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Chat.RedisAddr})
		logger.Info("Chat history backed by redis", slog.String("addr", cfg.Chat.RedisAddr))
		return chat.NewRedisStore(rdb, cfg.Chat.RedisHistoryCap), func() { _ = rdb.Close() }, nil
	default:
		logger.Info("Chat history kept in memory")
		return chat.NewMemoryStore(0), func() {}, nil
	}
}

// Package main runs the visa slot alert bot: a Telegram bot that monitors
// visa appointment availability and notifies subscribers when slots matching
// their preferences open up.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"

	"visaslot-notifier/bot"
	"visaslot-notifier/config"
	"visaslot-notifier/monitor"
	"visaslot-notifier/pkg/notifier"
	"visaslot-notifier/scraper"
	"visaslot-notifier/storage"
	"visaslot-notifier/telegram"
)

// prefStore is the full persistence surface main wires together; every
// backend in the storage package satisfies it.
type prefStore interface {
	Save(ctx context.Context, prefs *notifier.Preferences) error
	Load(ctx context.Context, chatID int64) (*notifier.Preferences, error)
	List(ctx context.Context) ([]*notifier.Preferences, error)
}

func main() {
	ctx := context.Background()

	// .env is optional; the environment wins either way.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	tg := telegram.NewClient(cfg.BotToken, logger)

	registry := monitor.NewRegistry(
		func() monitor.Source { return scraper.New(cfg.SiteURL, logger) },
		tg, store, cfg.SiteURL, logger,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	resumeActive(ctx, store, registry, logger)

	logger.Info("Bot starting", "site_url", cfg.SiteURL)
	bot.New(tg, store, registry, logger).Run(ctx)

	logger.Info("Shutting down, stopping monitor loops")
	registry.StopAll()
	logger.Info("Shutdown complete")
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore picks the persistence backend: Postgres when DATABASE_URL is
// set, a GCS bucket when STORAGE_BUCKET is set, a local directory otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (prefStore, func(), error) {
	switch {
	case cfg.DBConnString != "":
		logger.Info("Using Postgres storage")
		s, err := storage.NewPostgres(cfg.DBConnString, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if closeErr := s.Close(); closeErr != nil {
				logger.Warn("Failed to close database", "error", closeErr)
			}
		}, nil

	case cfg.Bucket != "":
		logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return storage.New(client, cfg.Bucket, "", logger), func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("Failed to close storage client", "error", closeErr)
			}
		}, nil

	default:
		logger.Info("Using local storage", "path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, nil, err
		}
		return storage.New(nil, "", cfg.LocalStorage, logger), func() {}, nil
	}
}

// resumeActive restarts monitor loops for subscribers who had alerts running
// when the process last stopped.
func resumeActive(ctx context.Context, store prefStore, registry *monitor.Registry, logger *slog.Logger) {
	records, err := store.List(ctx)
	if err != nil {
		logger.Error("Failed to list stored preferences", "error", err)
		return
	}

	resumed := 0
	for _, p := range records {
		if !p.Active {
			continue
		}
		if err := registry.Start(ctx, p); err != nil {
			logger.Warn("Failed to resume monitoring", "chat_id", p.ChatID, "error", err)
			continue
		}
		resumed++
	}
	if resumed > 0 {
		logger.Info("Resumed monitoring", "count", resumed)
	}
}

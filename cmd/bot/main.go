package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nano-banana/internal/config"
	"nano-banana/internal/gemini"
	"nano-banana/internal/genai"
	"nano-banana/internal/handlers"
	"nano-banana/internal/httpclient"
	"nano-banana/internal/mediagroup"
	"nano-banana/internal/metrics"
	"nano-banana/internal/openai"
	"nano-banana/internal/orchestrator"
	"nano-banana/internal/retry"
	"nano-banana/internal/session"
	"nano-banana/internal/store"
	"nano-banana/internal/telegram"
	"nano-banana/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.SlogLevel() == slog.LevelDebug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	tr := transport.New(transport.Options{
		HTTPClient: httpClient,
		ProxyURL:   cfg.ProxyURL,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})

	db, err := store.OpenSQLite(cfg.DataDir)
	if err != nil {
		logger.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.RetryMax

	orch, err := orchestrator.New(orchestrator.Options{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		ImageSize: cfg.ImageSize,
		Drivers: map[orchestrator.DriverKind]genai.Driver{
			orchestrator.DriverGemini: gemini.New(gemini.Options{Transport: tr, Logger: logger}),
			orchestrator.DriverOpenAIChat: openai.New(openai.Options{
				Transport:           tr,
				Logger:              logger,
				OnImageFetchFailure: metrics.ImageFetchFailed,
			}),
		},
		Routes:  cfg.Routes,
		History: session.NewHistory(session.Options{MaxTurns: cfg.MaxHistoryTurns}),
		Blobs:   db,
		Records: db,
		Retry:   &policy,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("orchestrator init failed", "err", err)
		os.Exit(1)
	}

	handler := handlers.New(handlers.Options{
		Messenger: tg,
		Generator: orch,
		OwnerID:   cfg.TelegramOwnerID,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Submit is single-flight; extra updates get a BUSY reply instead of queueing.
	const maxConcurrent = 4
	sem := make(chan struct{}, maxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()
			handler.HandleMediaGroup(ctx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: 1200 * time.Millisecond,
		MaxItems: 10,
		OnFlush:  onGroupFlush,
	})
	defer aggregator.Close()
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username(), "model", cfg.Model)

	updates := tg.Updates(30 * time.Second)
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				if err := handler.HandleUpdate(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}

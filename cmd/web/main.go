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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"nano-banana/internal/config"
	"nano-banana/internal/gemini"
	"nano-banana/internal/genai"
	"nano-banana/internal/httpclient"
	"nano-banana/internal/metrics"
	"nano-banana/internal/openai"
	"nano-banana/internal/orchestrator"
	"nano-banana/internal/retry"
	"nano-banana/internal/server"
	"nano-banana/internal/session"
	"nano-banana/internal/store"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
	tr := transport.New(transport.Options{
		HTTPClient: httpClient,
		ProxyURL:   cfg.ProxyURL,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})

	db, err := store.OpenSQLite(cfg.DataDir)
	if err != nil {
		panic(err)
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
		Progress: func(percent int, stage string) {
			logger.Debug("progress", "percent", percent, "stage", stage)
		},
		Logger: logger,
	})
	if err != nil {
		panic(err)
	}

	api := server.New(server.Options{
		Generator:    orch,
		ProxyClient:  httpClient,
		ProxyTimeout: cfg.HTTPTimeout,
		AllowedHosts: cfg.ProxyAllowedHosts,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.HTTPTimeout + time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr, "model", cfg.Model, "proxied", cfg.ProxyURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	logger.Info("web stopped")
}

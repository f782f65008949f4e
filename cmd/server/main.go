// Command server runs the buybox tracker API: HTTP endpoints for tracked
// products, background bulk jobs, the periodic refresh scheduler, and alert
// delivery.
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

	"buybox/internal/alerts"
	"buybox/internal/api"
	"buybox/internal/config"
	"buybox/internal/fetch"
	"buybox/internal/metrics"
	"buybox/internal/metrics/datadog"
	"buybox/internal/scheduler"
	"buybox/internal/storage"
	_ "buybox/internal/storage/mssql"
	_ "buybox/internal/storage/postgres"
	_ "buybox/internal/storage/sqlite"
	"buybox/internal/tracker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("starting buybox tracker",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
		"marketplace", cfg.Tracker.Marketplace,
		"storage", cfg.Storage.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		backend, err := datadog.NewBackend(ctx, datadog.Options{
			Service: cfg.Metrics.Service,
			Tags:    datadog.ParseTagsCSV(cfg.Metrics.Tags),
		})
		if err != nil {
			return err
		}
		metrics.SetBackend(backend)
		defer func() {
			if err := backend.Close(); err != nil {
				slog.Warn("metrics close failed", "err", err)
			}
		}()
	}

	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Init(ctx); err != nil {
		return err
	}

	client := fetch.NewClient(cfg.Tracker.HTTPTimeout)
	tr := tracker.New(client, tracker.Config{
		Marketplace: cfg.Tracker.Marketplace,
		OwnSeller:   cfg.Tracker.OwnSeller,
		MaxAttempts: cfg.Tracker.MaxAttempts,
	})

	dispatcher := alerts.NewDispatcher(buildChannels(cfg.Alerts), alerts.Notify{
		Winning: cfg.Alerts.Notify.Winning,
		Losing:  cfg.Alerts.Notify.Losing,
		Amazon:  cfg.Alerts.Notify.Amazon,
		Unknown: cfg.Alerts.Notify.Unknown,
	})

	srv := &api.Server{
		Tracker:    tr,
		Repo:       repo,
		Jobs:       tracker.NewRegistry(),
		Dispatcher: dispatcher,
	}

	sched := scheduler.New(repo, srv.RunRefresh, cfg.Scheduler.IntervalMinutes, cfg.Scheduler.Enabled)
	srv.Sched = sched
	if err := sched.Start(ctx); err != nil {
		return err
	}

	router := api.NewRouter(srv, api.Options{
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "err", err)
	}
	sched.Wait()
	if err := metrics.Flush(); err != nil {
		slog.Warn("metrics flush failed", "err", err)
	}
	return nil
}

// buildChannels registers only the channels with complete credentials.
func buildChannels(cfg config.AlertsConfig) alerts.Registry {
	var chans []alerts.Channel
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		chans = append(chans, alerts.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID))
		slog.Info("telegram alerts enabled")
	}
	if cfg.WhatsApp.Phone != "" && cfg.WhatsApp.APIKey != "" {
		chans = append(chans, alerts.NewWhatsApp(cfg.WhatsApp.Phone, cfg.WhatsApp.APIKey))
		slog.Info("whatsapp alerts enabled")
	}
	return alerts.NewRegistry(chans...)
}

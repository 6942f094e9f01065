package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vanshika/iou/backend/internal/blob"
	"github.com/vanshika/iou/backend/internal/bootstrap"
	"github.com/vanshika/iou/backend/internal/config"
	"github.com/vanshika/iou/backend/internal/logging"
	"github.com/vanshika/iou/backend/internal/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	if !cfg.IsProduction() && os.Getenv("SESSION_SECRET") == "" {
		logger.Warn("SESSION_SECRET not set, using development secret")
	}

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}()

	svcs, err := bootstrap.NewServices(cfg, store, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	blobs, err := blob.NewFSStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		logger.Error("failed to prepare blob store", "dir", cfg.Blob.Dir, "error", err)
		os.Exit(1)
	}

	apiHandlers := server.NewAPIHandlers(logger.With("component", "api"), server.APIDependencies{
		Auth:     svcs.Auth,
		Ledger:   svcs.Ledger,
		Notifier: svcs.Notifier,
		Blobs:    blobs,
		APILimit: svcs.Limits.API,
		Cookie: server.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.SecureCookie,
		},
		MaxUploadBytes: cfg.Blob.MaxUploadBytes,
		PublicBaseURL:  cfg.HTTP.PublicBaseURL,
	})

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.StoreHealthService{Store: store},
		API:              apiHandlers,
		Uploads:          blobs.Handler(),
		AllowedOrigins:   server.SplitOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

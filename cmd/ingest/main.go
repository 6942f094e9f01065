package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/vanshika/iou/backend/internal/bootstrap"
	"github.com/vanshika/iou/backend/internal/config"
	"github.com/vanshika/iou/backend/internal/generator"
	"github.com/vanshika/iou/backend/internal/logging"
	"github.com/vanshika/iou/backend/internal/service"
)

var errMissingDataset = errors.New("dataset not found")

func main() {
	var (
		datasetDir = flag.StringP("dataset-dir", "d", "./seed-data", "Directory containing users.json and ious.json")
		usersPath  = flag.String("users", "", "Path to users.json (overrides dataset-dir)")
		iousPath   = flag.String("ious", "", "Path to ious.json (overrides dataset-dir)")
		workers    = flag.IntP("workers", "w", 4, "Number of concurrent workers for ingestion")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "ingest")

	userFile, iouFile, err := resolveDatasetPaths(*datasetDir, *usersPath, *iousPath)
	if err != nil {
		logger.Error("dataset resolution failed", "error", err)
		os.Exit(1)
	}

	users, err := generator.LoadUsers(userFile)
	if err != nil {
		logger.Error("failed to load users", "error", err, "path", userFile)
		os.Exit(1)
	}
	if len(users) == 0 {
		logger.Error("users dataset empty", "path", userFile)
		os.Exit(1)
	}

	ious, err := generator.LoadIOUs(iouFile)
	if err != nil {
		logger.Error("failed to load ious", "error", err, "path", iouFile)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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
	ingestor := service.NewBulkIngestor(svcs.Credentials, store, svcs.Ledger, *workers)

	start := time.Now()
	logger.Info("ingesting users", "count", len(users), "workers", *workers)
	userStats, err := ingestor.IngestUsers(ctx, users)
	if err != nil {
		logger.Error("user ingestion failed", "error", err, "created", userStats.Created)
		os.Exit(1)
	}

	logger.Info("ingesting ious", "count", len(ious))
	iouStats, err := ingestor.IngestIOUs(ctx, ious)
	if err != nil {
		logger.Error("iou ingestion failed", "error", err, "created", iouStats.Created)
		os.Exit(1)
	}

	logger.Info("ingestion complete",
		"duration", time.Since(start).String(),
		"users_created", userStats.Created,
		"users_skipped", userStats.Skipped,
		"ious_created", iouStats.Created,
	)
}

func resolveDatasetPaths(baseDir, usersPath, iousPath string) (string, string, error) {
	defaultUsers, defaultIOUs := generator.DatasetPaths(baseDir)
	resolve := func(explicitPath, fallback string) (string, error) {
		if explicitPath != "" {
			if _, err := os.Stat(explicitPath); err != nil {
				return "", fmt.Errorf("stat %s: %w", explicitPath, err)
			}
			return explicitPath, nil
		}
		if _, err := os.Stat(fallback); err != nil {
			return "", fmt.Errorf("%w: %s", errMissingDataset, fallback)
		}
		return fallback, nil
	}

	usersFile, err := resolve(usersPath, defaultUsers)
	if err != nil {
		return "", "", err
	}
	iousFile, err := resolve(iousPath, defaultIOUs)
	if err != nil {
		return "", "", err
	}
	return usersFile, iousFile, nil
}

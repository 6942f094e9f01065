package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/vanshika/iou/backend/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		users              = flag.IntP("users", "u", cfg.NumUsers, "number of users to generate")
		ious               = flag.IntP("ious", "n", cfg.NumIOUs, "number of IOUs to generate")
		placeholderChance  = flag.Float64("placeholder-chance", cfg.PlaceholderChance, "probability that a user has no PIN yet")
		unregisteredChance = flag.Float64("unregistered-chance", cfg.UnregisteredChance, "probability that an IOU targets an unregistered phone")
		nameOnlyChance     = flag.Float64("name-only-chance", cfg.NameOnlyChance, "probability that an IOU names its recipient without a phone")
		repaidChance       = flag.Float64("repaid-chance", cfg.RepaidChance, "probability that an IOU is already repaid")
		photoChance        = flag.Float64("photo-chance", cfg.PhotoChance, "probability that an IOU carries a photo URL")
		seed               = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir          = flag.StringP("output-dir", "o", "seed-data", "directory to write users.json and ious.json")
		writeStdout        = flag.Bool("stdout", false, "write combined dataset to stdout instead of files")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumUsers:           *users,
		NumIOUs:            *ious,
		PlaceholderChance:  clampProbability(*placeholderChance),
		UnregisteredChance: clampProbability(*unregisteredChance),
		NameOnlyChance:     clampProbability(*nameOnlyChance),
		RepaidChance:       clampProbability(*repaidChance),
		PhotoChance:        clampProbability(*photoChance),
		Seed:               *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dataset, err := generator.New(genCfg).Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d users and %d IOUs into %s\n", len(dataset.Users), len(dataset.IOUs), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

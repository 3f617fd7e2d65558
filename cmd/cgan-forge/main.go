package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cgan-forge/internal/config"
	"cgan-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to JSON or YAML config")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logInterval := flag.Int("log-interval", 0, "Report every N batches")
	lr := flag.Float64("lr", 0, "Learning rate for both optimizers")
	modelType := flag.String("model-type", "", "Generator/discriminator variant")
	dataDir := flag.String("data-dir", "", "Dataset directory (comma separated roots for shards)")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Epochs:      *epochs,
		BatchSize:   *batchSize,
		NumWorkers:  *numWorkers,
		Seed:        *seed,
		LogInterval: *logInterval,
		LR:          *lr,
		ModelType:   *modelType,
		DataDir:     *dataDir,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := trainer.Run(ctx, cfg); err != nil {
		log.Fatalf("training failed: %+v", err)
	}
}

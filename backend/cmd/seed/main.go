package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/bootstrap"
	"sapling-graph/backend/internal/engine"
	"sapling-graph/backend/pkg/config"
	"sapling-graph/backend/pkg/logger"
)

//go:embed fixtures/demo.yaml
var demoFixture []byte

func main() {
	file := flag.String("file", "", "YAML fixture to load (defaults to the built-in demo cohort)")
	dedup := flag.Bool("dedup", false, "Merge duplicate concept nodes after seeding")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	data := demoFixture
	if *file != "" {
		data, err = os.ReadFile(*file)
		if err != nil {
			log.Fatal("Failed to read fixture", zap.String("file", *file), zap.Error(err))
		}
	}
	fx, err := ParseFixture(data)
	if err != nil {
		log.Fatal("Invalid fixture", zap.Error(err))
	}

	ctx := context.Background()
	s, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger.Named("store"))
	if err != nil {
		log.Fatal("Failed to open record store", zap.Error(err))
	}
	defer closeStore()

	cache, closeCache := bootstrap.OpenCache(ctx, cfg, logger.Named("cache"))
	defer closeCache()

	e := engine.New(s, engine.WithLogger(logger.Named("engine")), engine.WithCache(cache))

	sum, err := Seed(ctx, e, fx, log)
	if err != nil {
		log.Fatal("Seeding failed", zap.Error(err))
	}

	if *dedup {
		res, err := e.DedupNodes(ctx)
		if err != nil {
			log.Fatal("Deduplication failed", zap.Error(err))
		}
		log.Info("Deduplication complete",
			zap.Int("duplicate_groups", res.DuplicateGroups),
			zap.Int("nodes_removed", res.NodesRemoved),
			zap.Int("edges_removed", res.EdgesRemoved),
		)
	}

	log.Info("Seeding complete",
		zap.String("store", cfg.StoreBackend),
		zap.Int("users", sum.Users),
		zap.Int("courses", sum.Courses),
		zap.Int("mastery_changes", sum.Changes),
		zap.Int("skipped_entries", sum.Skipped),
		zap.Int("review_contexts", sum.Reviews),
	)
}

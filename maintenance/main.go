package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/cli"
	"github.com/DeafMist/civic-radar/internal/config"
	"github.com/DeafMist/civic-radar/internal/dedupe"
	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/embedding"
	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/logger"
	"github.com/DeafMist/civic-radar/internal/semantic"
	"github.com/DeafMist/civic-radar/internal/store"
)

type deduplicator interface {
	Run(ctx context.Context, opts dedupe.RunOptions) (dedupe.Result, error)
}

type idChecker interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

type indexDeleter interface {
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

func main() {
	envLoader := cli.AddEnvFlag(flag.CommandLine, ".env")
	dryRun := flag.Bool("dry-run", false, "Report duplicates without deleting anything")
	threshold := flag.Float64("threshold", 0, "Fuzzy similarity threshold in (0,1]; defaults to DEDUP_THRESHOLD")
	flag.Parse()

	log := logger.New("maintenance")
	if _, err := envLoader.Load(); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	}

	cfg, err := config.LoadMaintenance()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *threshold == 0 {
		*threshold = cfg.DedupThreshold
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	defer cancel()

	db, err := store.Open(ctx, store.Options{
		Driver:      cfg.DatabaseDriver,
		DSN:         cfg.DatabaseURL,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init elasticsearch")
	}

	var gateway dedupe.Gateway
	if cfg.SemanticEnabled {
		embedder := embedding.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDims)
		gateway = semantic.New(embedder, esClient, cfg.SemanticTimeout, log)
	}

	runLog := log.With().Str("run_id", uuid.NewString()).Logger()
	detector := dedupe.New(db, gateway, dedupe.Options{
		MaxCandidates:     cfg.MaxCandidates,
		SemanticThreshold: cfg.SemanticThreshold,
		SemanticTimeout:   cfg.SemanticTimeout,
		StoreTimeout:      cfg.StoreTimeout,
		BatchDeleteSize:   cfg.BatchDeleteSize,
		BatchDeleteDelay:  cfg.BatchDeleteDelay,
	}, runLog)

	res, err := run(ctx, runLog, detector, db, esClient, dedupe.RunOptions{
		Threshold: *threshold,
		DryRun:    *dryRun,
		Since:     time.Now().Add(-cfg.DedupWindow),
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)

	if err != nil {
		runLog.Error().Err(err).Msg("deduplication failed")
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration problems, such as a bad -threshold, and 1
// for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case failure.IsFatal(err):
		return 2
	default:
		return 1
	}
}

// run deduplicates the store and then drops the deleted duplicates from the
// search index. Index cleanup failures are logged and counted, never fatal.
func run(ctx context.Context, log zerolog.Logger, d deduplicator, db idChecker, index indexDeleter, opts dedupe.RunOptions) (dedupe.Result, error) {
	started := time.Now()
	log.Info().
		Float64("threshold", opts.Threshold).
		Bool("dry_run", opts.DryRun).
		Time("since", opts.Since).
		Msg("deduplication started")

	res, err := d.Run(ctx, opts)
	if err != nil {
		return res, fmt.Errorf("run deduplication: %w", err)
	}

	if !opts.DryRun && res.DeletedCount > 0 {
		removed, err := removedDuplicates(ctx, db, res)
		if err != nil {
			log.Warn().Err(err).Msg("resolve removed duplicates")
			res.Errors++
		} else if len(removed) > 0 {
			n, err := index.DeleteByIDs(ctx, removed)
			if err != nil {
				log.Warn().Err(err).Int("ids", len(removed)).Msg("delete duplicates from index")
				res.Errors++
			} else {
				log.Info().Int64("deleted", n).Msg("duplicates removed from index")
			}
		}
	}

	log.Info().
		Int("total_entries", res.TotalEntries).
		Int("duplicates_found", res.DuplicatesFound).
		Int64("deleted", res.DeletedCount).
		Int("hashes_backfilled", res.HashesBackfill).
		Int("errors", res.Errors).
		Int("skipped", res.Skipped).
		Bool("truncated", res.Truncated).
		Dur("took", time.Since(started)).
		Msg("deduplication finished")
	return res, nil
}

// removedDuplicates returns the duplicate ids of res that are gone from the store.
func removedDuplicates(ctx context.Context, db idChecker, res dedupe.Result) ([]string, error) {
	ids := make([]string, 0, len(res.Duplicates))
	for _, pair := range res.Duplicates {
		ids = append(ids, pair.DuplicateID)
	}
	existing, err := db.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

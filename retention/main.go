package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/cli"
	"github.com/DeafMist/civic-radar/internal/config"
	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/logger"
	"github.com/DeafMist/civic-radar/internal/store"
)

type indexPurger interface {
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

type storePurger interface {
	DeleteContentBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

func main() {
	envLoader := cli.AddEnvFlag(flag.CommandLine, ".env")
	flag.Parse()

	log := logger.New("retention")
	if _, err := envLoader.Load(); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	}

	cfg, err := config.LoadRetention()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init elasticsearch")
	}
	if !waitForElasticsearch(ctx, log, esClient) {
		if ctx.Err() != nil {
			log.Info().Msg("shutdown signal received during startup")
			os.Exit(0)
		}
		log.Fatal().Msg("failed to connect to elasticsearch after retries")
	}
	log.Info().Msg("connected to elasticsearch")

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

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", cfg.Interval).
		Dur("max_age", cfg.MaxAge).
		Msg("retention job running")

	runOnce(ctx, log, esClient, db, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, esClient, db, cfg)
		}
	}
}

// waitForElasticsearch pings with exponential backoff capped at 30s.
func waitForElasticsearch(ctx context.Context, log zerolog.Logger, es *elasticsearch.Client) bool {
	const maxRetries = 10
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := es.Ping(pingCtx)
		cancel()
		if err == nil {
			return true
		}
		log.Warn().
			Err(err).
			Int("attempt", i+1).
			Int("max_retries", maxRetries).
			Dur("retry_in", retryDelay).
			Msg("elasticsearch ping failed, retrying")

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return false
		}
		retryDelay = min(retryDelay*2, 30*time.Second)
	}
	return false
}

// runOnce expires old content from the index and the store. A failure on
// one side does not stop the other; both retry on the next tick.
func runOnce(ctx context.Context, log zerolog.Logger, index indexPurger, db storePurger, cfg *config.Retention) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	indexed, err := index.DeleteOlderThan(subCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("index retention failed (will retry on next interval)")
	}

	stored, err := db.DeleteContentBefore(subCtx, time.Now().Add(-cfg.MaxAge), cfg.BatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("store retention failed (will retry on next interval)")
	}

	if indexed > 0 || stored > 0 {
		log.Info().Int64("index_deleted", indexed).Int64("store_deleted", stored).Msg("retention run completed")
	} else {
		log.Debug().Msg("retention run completed, no old content found")
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/cli"
	"github.com/DeafMist/civic-radar/internal/config"
	"github.com/DeafMist/civic-radar/internal/langdetect"
	"github.com/DeafMist/civic-radar/internal/logger"
	"github.com/DeafMist/civic-radar/internal/notify"
	"github.com/DeafMist/civic-radar/internal/processing"
	"github.com/DeafMist/civic-radar/internal/store"
	"github.com/DeafMist/civic-radar/internal/trends"
)

const day = 24 * time.Hour

func main() {
	envLoader := cli.AddEnvFlag(flag.CommandLine, ".env")
	flag.Parse()

	log := logger.New("trends")
	if _, err := envLoader.Load(); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	}

	cfg, err := config.LoadTrends()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
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

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init notifier")
	}

	job := newJob(cfg, db, notifier, log)
	sum, err := job.Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)

	if err != nil {
		log.Error().Err(err).Msg("trend run failed")
		os.Exit(1)
	}
}

func newNotifier(cfg *config.Trends, log zerolog.Logger) (notify.Notifier, error) {
	if cfg.TelegramToken == "" {
		return notify.Log{Logger: log}, nil
	}
	return notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
}

func newJob(cfg *config.Trends, st trends.Store, notifier notify.Notifier, log zerolog.Logger) *trends.Job {
	keywords := trends.Keywords{
		Extractor: processing.NewKeywordExtractor(nil, cfg.KeywordLimit, langdetect.DetectISO6391),
	}
	detector := trends.NewIssueDetector(trends.DetectorConfig{
		VelocityThreshold: cfg.VelocityThreshold,
		MinimumIssueSize:  cfg.MinimumIssueSize,
		UrgentThreshold:   cfg.UrgentThreshold,
		Departments:       cfg.Departments,
		DefaultDepartment: cfg.DefaultDepartment,
		CategoryLabels:    cfg.CategoryLabels,
	}, keywords)

	return trends.NewJob(st, keywords, detector, notifier, trends.JobConfig{
		TrendWindow:    cfg.TrendWindow,
		TrendRetention: time.Duration(cfg.TrendRetentionDays) * day,
		IssueRetention: time.Duration(cfg.IssueRetentionDays) * day,
		StoreTimeout:   cfg.StoreTimeout,
	}, log)
}

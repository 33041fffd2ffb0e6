package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/civic-radar/internal/classifier"
	"github.com/DeafMist/civic-radar/internal/cli"
	"github.com/DeafMist/civic-radar/internal/config"
	"github.com/DeafMist/civic-radar/internal/dedupe"
	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/embedding"
	"github.com/DeafMist/civic-radar/internal/ingest"
	"github.com/DeafMist/civic-radar/internal/langdetect"
	"github.com/DeafMist/civic-radar/internal/logger"
	"github.com/DeafMist/civic-radar/internal/processing"
	"github.com/DeafMist/civic-radar/internal/semantic"
	"github.com/DeafMist/civic-radar/internal/store"
)

const (
	maxProcessAttempts = 3
	maxDLQAttempts     = 5
)

type processor interface {
	Process(ctx context.Context, raw []byte) (ingest.Outcome, error)
}

func main() {
	envLoader := cli.AddEnvFlag(flag.CommandLine, ".env")
	flag.Parse()

	log := logger.New("worker")
	if path, err := envLoader.Load(); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	} else if path != "" {
		log.Debug().Str("path", path).Msg("env file loaded")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

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
	dims := 0
	if cfg.SemanticEnabled {
		dims = cfg.EmbeddingDims
	}
	if err := esClient.EnsureIndex(ctx, dims); err != nil {
		log.Fatal().Err(err).Msg("ensure content index")
	}

	var (
		gateway dedupe.Gateway
		sem     ingest.Semantic
	)
	if cfg.SemanticEnabled {
		embedder := embedding.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDims)
		gw := semantic.New(embedder, esClient, cfg.SemanticTimeout, log)
		gateway, sem = gw, gw
	}

	detector := dedupe.New(db, gateway, dedupe.Options{
		ScreenCandidates:  cfg.ScreenCandidates,
		ScreenWindow:      cfg.ScreenWindow,
		ScreenThreshold:   cfg.ScreenThreshold,
		SemanticThreshold: cfg.SemanticThreshold,
		SemanticTimeout:   cfg.SemanticTimeout,
		StoreTimeout:      cfg.StoreTimeout,
		Cache:             dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
	}, log)

	extractor := processing.NewKeywordExtractor(nil, cfg.KeywordLimit, langdetect.DetectISO6391)
	cls := classifier.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ClassifierModel, cfg.KeywordLimit)
	svc := ingest.NewService(detector, cls, db, esClient, sem, extractor, ingest.Options{
		ClassifierTimeout:  cfg.ClassifierTimeout,
		StoreTimeout:       cfg.StoreTimeout,
		HoaxMatchThreshold: cfg.HoaxThreshold,
	}, log)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info().
		Str("topic", cfg.KafkaTopic).
		Str("group", cfg.KafkaConsumer).
		Str("dlq_topic", dlqTopic).
		Bool("semantic", cfg.SemanticEnabled).
		Msg("worker started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("context canceled, stopping")
				return
			}
			log.Error().Err(err).Msg("fetch message")
			continue
		}

		if err := processMessage(ctx, log, svc, msg); err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("context canceled mid-message, leaving it uncommitted")
				return
			}
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Bool("permanent", ingest.IsPermanent(err)).
				Msg("process message failed, sending to DLQ")

			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Skip the commit so the message is reprocessed on restart.
				log.Error().
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("DLQ write exhausted retries, message may be lost if later messages commit")
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("commit message")
		}
	}
}

// processMessage runs one message through the pipeline. Transient failures
// are retried with backoff; invalid payloads fail on the first attempt.
func processMessage(ctx context.Context, log zerolog.Logger, svc processor, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt < maxProcessAttempts; attempt++ {
		var out ingest.Outcome
		out, err = svc.Process(ctx, msg.Value)
		if err == nil {
			log.Debug().
				Str("status", string(out.Status)).
				Str("id", out.ID).
				Int64("offset", msg.Offset).
				Msg("message processed")
			return nil
		}
		if ingest.IsPermanent(err) || attempt == maxProcessAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("process failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// sendToDLQ writes msg with error context to the dead-letter topic, retrying
// with exponential backoff. It reports whether the write succeeded.
func sendToDLQ(ctx context.Context, log zerolog.Logger, w messageWriter, msg kafka.Message, cause error) bool {
	dlqMsg := dlqMessage(msg, cause, time.Now())
	for attempt := 0; attempt < maxDLQAttempts; attempt++ {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info().
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Int("attempt", attempt+1).
				Msg("message sent to DLQ")
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn().Err(dlqErr).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("DLQ write failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info().Msg("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

func dlqMessage(msg kafka.Message, cause error, now time.Time) kafka.Message {
	kind := "transient"
	if ingest.IsPermanent(cause) {
		kind = "permanent"
	}
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "error_kind", Value: []byte(kind)},
		kafka.Header{Key: "timestamp", Value: []byte(now.UTC().Format(time.RFC3339))},
	)
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}

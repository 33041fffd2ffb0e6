package trends

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/notify"
)

// Store is what the job reads and writes.
type Store interface {
	QueryWindow(ctx context.Context, since time.Time, limit int) ([]models.ContentItem, error)
	UpsertTrendBucket(ctx context.Context, bucket models.KeywordTrendBucket) error
	PurgeBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	MarkResolved(ctx context.Context, cutoff, now time.Time) (int64, error)
	UpsertIssue(ctx context.Context, issue models.EmergingIssue) (bool, error)
}

// JobConfig sets the windows of one trend run.
type JobConfig struct {
	TrendWindow    time.Duration
	TrendRetention time.Duration
	IssueRetention time.Duration
	StoreTimeout   time.Duration
}

// Summary reports what a run did. Errors counts per-step failures that did
// not abort the run.
type Summary struct {
	Processed      int   `json:"processed"`
	Errors         int   `json:"errors"`
	BucketsWritten int   `json:"buckets_written"`
	BucketsPurged  int64 `json:"buckets_purged"`
	IssuesUpserted int   `json:"issues_upserted"`
	IssuesCreated  int   `json:"issues_created"`
	IssuesResolved int64 `json:"issues_resolved"`
}

// Job recomputes trend buckets over the window and refreshes emerging issues.
type Job struct {
	store    Store
	keywords Keywords
	detector *IssueDetector
	notifier notify.Notifier
	cfg      JobConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewJob wires a job. notifier may be nil.
func NewJob(store Store, keywords Keywords, detector *IssueDetector, notifier notify.Notifier, cfg JobConfig, log zerolog.Logger) *Job {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 30 * time.Second
	}
	return &Job{
		store:    store,
		keywords: keywords,
		detector: detector,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run executes one pass. Only a failed window read is returned as an error.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := j.now().UTC()
	window := Window{Start: now.Add(-j.cfg.TrendWindow), End: now.Add(time.Nanosecond)}

	items, err := j.queryWindow(ctx, window.Start)
	if err != nil {
		return sum, err
	}
	sum.Processed = len(items)

	if j.cfg.TrendRetention > 0 {
		purged, err := withTimeout(ctx, j.cfg.StoreTimeout, func(ctx context.Context) (int64, error) {
			return j.store.PurgeBucketsBefore(ctx, now.Add(-j.cfg.TrendRetention))
		})
		if err != nil {
			j.log.Error().Err(err).Msg("purge trend buckets")
			sum.Errors++
		}
		sum.BucketsPurged = purged
	}

	for _, b := range Aggregate(items, window, j.keywords) {
		_, err := withTimeout(ctx, j.cfg.StoreTimeout, func(ctx context.Context) (int64, error) {
			return 0, j.store.UpsertTrendBucket(ctx, b)
		})
		if err != nil {
			j.log.Error().Err(err).Str("keyword", b.Keyword).Time("hour", b.HourBucket).Msg("upsert trend bucket")
			sum.Errors++
			continue
		}
		sum.BucketsWritten++
	}

	if j.cfg.IssueRetention > 0 {
		resolved, err := withTimeout(ctx, j.cfg.StoreTimeout, func(ctx context.Context) (int64, error) {
			return j.store.MarkResolved(ctx, now.Add(-j.cfg.IssueRetention), now)
		})
		if err != nil {
			j.log.Error().Err(err).Msg("resolve stale issues")
			sum.Errors++
		}
		sum.IssuesResolved = resolved
	}

	for _, issue := range j.detector.DetectIssues(items, now) {
		var created bool
		_, err := withTimeout(ctx, j.cfg.StoreTimeout, func(ctx context.Context) (int64, error) {
			var err error
			created, err = j.store.UpsertIssue(ctx, issue)
			return 0, err
		})
		if err != nil {
			j.log.Error().Err(err).Str("title", issue.Title).Msg("upsert issue")
			sum.Errors++
			continue
		}
		sum.IssuesUpserted++
		if !created {
			continue
		}
		sum.IssuesCreated++
		if j.notifier != nil {
			if err := j.notifier.NotifyIssue(ctx, issue); err != nil {
				j.log.Warn().Err(err).Str("title", issue.Title).Msg("notify issue")
				sum.Errors++
			}
		}
	}

	j.log.Info().
		Int("processed", sum.Processed).
		Int("buckets", sum.BucketsWritten).
		Int64("purged", sum.BucketsPurged).
		Int("issues", sum.IssuesUpserted).
		Int("created", sum.IssuesCreated).
		Int64("resolved", sum.IssuesResolved).
		Int("errors", sum.Errors).
		Msg("trend run finished")
	return sum, nil
}

func (j *Job) queryWindow(ctx context.Context, since time.Time) ([]models.ContentItem, error) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.StoreTimeout)
	defer cancel()
	items, err := j.store.QueryWindow(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("query trend window: %w: %v", failure.ErrTransientIO, err)
	}
	return items, nil
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (int64, error)) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

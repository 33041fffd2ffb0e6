// Package store persists content items, keyword trend buckets and emerging
// issues through gorm. Postgres is the production driver; sqlite serves local
// runs and tests.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/models"
)

// Options configures Open.
type Options struct {
	Driver      string
	DSN         string
	LogLevel    string
	Environment string
	MaxConns    int
}

// Store is the gorm-backed content, trend and issue store.
type Store struct {
	db *gorm.DB
}

// Open connects, pings and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", "postgres":
		dialector = postgres.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q: %w", opts.Driver, failure.ErrConfig)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(opts.LogLevel, opts.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// A single connection keeps an in-memory database alive and serialises writers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		maxOpen := opts.MaxConns
		if maxOpen <= 0 {
			maxOpen = 8
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(max(1, maxOpen/2))
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w: %v", failure.ErrTransientIO, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InsertContent stores a new item. It reports false without error when
// another item with the same content hash was committed first.
func (s *Store) InsertContent(ctx context.Context, item models.ContentItem) (models.ContentItem, bool, error) {
	row := toContentRow(item)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return item, false, fmt.Errorf("insert content: %w", res.Error)
	}
	return row.model(), res.RowsAffected == 1, nil
}

// GetByHash returns nil, nil when no item carries hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (*models.ContentItem, error) {
	var rows []contentRow
	if err := s.db.WithContext(ctx).Where("content_hash = ?", hash).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get by hash: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	item := rows[0].model()
	return &item, nil
}

// QueryWindow returns the most recent items created at or after since,
// ordered by creation time ascending. limit <= 0 returns the whole window.
func (s *Store) QueryWindow(ctx context.Context, since time.Time, limit int) ([]models.ContentItem, error) {
	q := s.db.WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []contentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}

	items := make([]models.ContentItem, len(rows))
	for i, row := range rows {
		items[len(rows)-1-i] = row.model()
	}
	return items, nil
}

// DeleteByIDs removes items and returns how many rows went away.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&contentRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete content: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExistingIDs returns the subset of ids still present.
func (s *Store) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&contentRow{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("existing ids: %w", err)
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

// SetContentHash backfills the fingerprint of a stored item.
func (s *Store) SetContentHash(ctx context.Context, id, hash string) error {
	err := s.db.WithContext(ctx).Model(&contentRow{}).Where("id = ?", id).Update("content_hash", hash).Error
	if err != nil {
		return fmt.Errorf("set content hash %s: %w", id, err)
	}
	return nil
}

// DeleteContentBefore removes items created before cutoff in batches.
func (s *Store) DeleteContentBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total int64
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&contentRow{}).
			Where("created_at < ?", cutoff.UTC()).
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, fmt.Errorf("select expired content: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		n, err := s.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += n
		if len(ids) < batchSize {
			return total, nil
		}
	}
}

// UpsertTrendBucket writes a bucket, replacing the counts of an existing
// (keyword, hour) row.
func (s *Store) UpsertTrendBucket(ctx context.Context, bucket models.KeywordTrendBucket) error {
	row := toTrendRow(bucket)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "keyword"}, {Name: "hour_bucket"}},
		DoUpdates: clause.AssignmentColumns([]string{"mention_count", "positive", "negative", "neutral", "source_counts", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert trend %s@%s: %w", bucket.Keyword, bucket.HourBucket.Format(time.RFC3339), err)
	}
	return nil
}

// PurgeBucketsBefore deletes buckets whose hour is older than cutoff.
func (s *Store) PurgeBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("hour_bucket < ?", cutoff.UTC()).Delete(&trendBucketRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge trends: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TrendFilter narrows ListTrends.
type TrendFilter struct {
	Keyword string
	Since   time.Time
	Limit   int
}

// ListTrends returns buckets ordered by hour then keyword.
func (s *Store) ListTrends(ctx context.Context, f TrendFilter) ([]models.KeywordTrendBucket, error) {
	q := s.db.WithContext(ctx).Where("hour_bucket >= ?", f.Since.UTC())
	if f.Keyword != "" {
		q = q.Where("keyword = ?", strings.ToLower(strings.TrimSpace(f.Keyword)))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []trendBucketRow
	if err := q.Order("hour_bucket ASC").Order("keyword ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list trends: %w", err)
	}
	out := make([]models.KeywordTrendBucket, len(rows))
	for i, row := range rows {
		out[i] = row.model()
	}
	return out, nil
}

// UpsertIssue inserts or refreshes an issue keyed by title. It reports
// whether the issue was new.
func (s *Store) UpsertIssue(ctx context.Context, issue models.EmergingIssue) (bool, error) {
	row := toIssueRow(issue)
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []issueRow
		if err := tx.Where("title = ?", row.Title).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) == 0 {
			created = true
			return tx.Create(&row).Error
		}
		return tx.Save(&row).Error
	})
	if err != nil {
		return false, fmt.Errorf("upsert issue %q: %w", issue.Title, err)
	}
	return created, nil
}

// MarkResolved resolves active issues first detected before cutoff.
func (s *Store) MarkResolved(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&issueRow{}).
		Where("status = ? AND first_detected < ?", string(models.IssueActive), cutoff.UTC()).
		Updates(map[string]any{"status": string(models.IssueResolved), "resolved_at": now.UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("resolve issues: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListIssues returns issues, newest detection first. An empty status lists all.
func (s *Store) ListIssues(ctx context.Context, status models.IssueStatus, limit int) ([]models.EmergingIssue, error) {
	q := s.db.WithContext(ctx).Order("first_detected DESC").Order("title ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []issueRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	out := make([]models.EmergingIssue, len(rows))
	for i, row := range rows {
		out[i] = row.model()
	}
	return out, nil
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "disabled":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}

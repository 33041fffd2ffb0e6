package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DeafMist/civic-radar/internal/models"
)

type contentRow struct {
	ID                string    `gorm:"primaryKey;size:36"`
	RawContent        string    `gorm:"type:text;not null"`
	NormalizedContent string    `gorm:"type:text"`
	ContentHash       *string   `gorm:"size:64;uniqueIndex:idx_content_hash"`
	SourceName        string    `gorm:"size:128;index"`
	Title             string    `gorm:"size:512"`
	URL               string    `gorm:"size:2048"`
	Category          string    `gorm:"size:64;index"`
	CreatedAt         time.Time `gorm:"not null;index"`
	UrgencyLevel      int       `gorm:"not null;default:0"`
	Sentiment         string    `gorm:"size:16;not null;default:neutral"`
	HoaxProbability   float64   `gorm:"not null;default:0"`
	Keywords          []string  `gorm:"type:text;serializer:json"`
}

func (contentRow) TableName() string { return "content_items" }

func (r *contentRow) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type trendBucketRow struct {
	Keyword      string         `gorm:"primaryKey;size:128"`
	HourBucket   time.Time      `gorm:"primaryKey;index"`
	MentionCount int            `gorm:"not null"`
	Positive     int            `gorm:"not null;default:0"`
	Negative     int            `gorm:"not null;default:0"`
	Neutral      int            `gorm:"not null;default:0"`
	SourceCounts map[string]int `gorm:"type:text;serializer:json"`
	UpdatedAt    time.Time
}

func (trendBucketRow) TableName() string { return "keyword_trends" }

type issueRow struct {
	Title               string    `gorm:"primaryKey;size:255"`
	Category            string    `gorm:"size:64"`
	Keywords            []string  `gorm:"type:text;serializer:json"`
	Velocity            float64   `gorm:"not null"`
	MentionCount        int       `gorm:"not null"`
	UrgencyScore        int       `gorm:"not null"`
	DepartmentRelevance []string  `gorm:"type:text;serializer:json"`
	Status              string    `gorm:"size:16;not null;index"`
	FirstDetected       time.Time `gorm:"not null;index"`
	LastConfirmed       time.Time
	ResolvedAt          *time.Time
	UpdatedAt           time.Time
}

func (issueRow) TableName() string { return "emerging_issues" }

func autoMigrateModels() []any {
	return []any{
		&contentRow{},
		&trendBucketRow{},
		&issueRow{},
	}
}

func toContentRow(item models.ContentItem) contentRow {
	row := contentRow{
		ID:                item.ID,
		RawContent:        item.RawContent,
		NormalizedContent: item.NormalizedContent,
		SourceName:        item.SourceName,
		Title:             item.Title,
		URL:               item.URL,
		Category:          item.Category,
		CreatedAt:         item.CreatedAt.UTC(),
		UrgencyLevel:      item.UrgencyLevel,
		Sentiment:         string(models.ParseSentiment(string(item.Sentiment))),
		HoaxProbability:   item.HoaxProbability,
		Keywords:          item.Keywords,
	}
	if item.ContentHash != "" {
		hash := item.ContentHash
		row.ContentHash = &hash
	}
	return row
}

func (r contentRow) model() models.ContentItem {
	item := models.ContentItem{
		ID:                r.ID,
		RawContent:        r.RawContent,
		NormalizedContent: r.NormalizedContent,
		SourceName:        r.SourceName,
		Title:             r.Title,
		URL:               r.URL,
		Category:          r.Category,
		CreatedAt:         r.CreatedAt.UTC(),
		UrgencyLevel:      r.UrgencyLevel,
		Sentiment:         models.ParseSentiment(r.Sentiment),
		HoaxProbability:   r.HoaxProbability,
		Keywords:          r.Keywords,
	}
	if r.ContentHash != nil {
		item.ContentHash = *r.ContentHash
	}
	return item
}

func toTrendRow(b models.KeywordTrendBucket) trendBucketRow {
	return trendBucketRow{
		Keyword:      b.Keyword,
		HourBucket:   b.HourBucket.UTC(),
		MentionCount: b.MentionCount,
		Positive:     b.SentimentCounts.Positive,
		Negative:     b.SentimentCounts.Negative,
		Neutral:      b.SentimentCounts.Neutral,
		SourceCounts: b.SourceCounts,
	}
}

func (r trendBucketRow) model() models.KeywordTrendBucket {
	return models.KeywordTrendBucket{
		Keyword:      r.Keyword,
		HourBucket:   r.HourBucket.UTC(),
		MentionCount: r.MentionCount,
		SentimentCounts: models.SentimentCounts{
			Positive: r.Positive,
			Negative: r.Negative,
			Neutral:  r.Neutral,
		},
		SourceCounts: r.SourceCounts,
	}
}

func toIssueRow(i models.EmergingIssue) issueRow {
	return issueRow{
		Title:               i.Title,
		Category:            i.Category,
		Keywords:            i.Keywords,
		Velocity:            i.Velocity,
		MentionCount:        i.MentionCount,
		UrgencyScore:        i.UrgencyScore,
		DepartmentRelevance: i.DepartmentRelevance,
		Status:              string(i.Status),
		FirstDetected:       i.FirstDetected.UTC(),
		LastConfirmed:       i.LastConfirmed.UTC(),
	}
}

func (r issueRow) model() models.EmergingIssue {
	return models.EmergingIssue{
		Title:               r.Title,
		Category:            r.Category,
		Keywords:            r.Keywords,
		Velocity:            r.Velocity,
		MentionCount:        r.MentionCount,
		UrgencyScore:        r.UrgencyScore,
		DepartmentRelevance: r.DepartmentRelevance,
		Status:              models.IssueStatus(r.Status),
		FirstDetected:       r.FirstDetected.UTC(),
		LastConfirmed:       r.LastConfirmed.UTC(),
	}
}

// Package trends turns stored content into hourly keyword buckets and flags
// keyword groups whose mention rate marks them as emerging issues.
package trends

import (
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/processing"
)

const unknownSource = "unknown"

// MaxKeywordLength is the longest keyword, in runes, a trend bucket stores.
const MaxKeywordLength = 128

// Window is a half-open time range [Start, End). A zero End is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// Keywords resolves the keyword list of an item: the classifier's keywords
// when present, otherwise the fallback extractor's.
type Keywords struct {
	Extractor *processing.KeywordExtractor
}

// For returns lower-cased, trimmed, de-duplicated keywords in their original
// order. Keywords longer than MaxKeywordLength are cut to that length.
func (k Keywords) For(item models.ContentItem) []string {
	raw := item.Keywords
	if len(raw) == 0 && k.Extractor != nil {
		text := item.NormalizedContent
		if text == "" {
			text = item.RawContent
		}
		raw = k.Extractor.Extract(text)
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if r := []rune(kw); len(r) > MaxKeywordLength {
			kw = strings.TrimSpace(string(r[:MaxKeywordLength]))
		}
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

type bucketKey struct {
	keyword string
	hour    time.Time
}

// Aggregate counts mentions per keyword per UTC hour for the items inside
// window. Only non-empty buckets are returned, ordered by hour then keyword.
func Aggregate(items []models.ContentItem, window Window, keywords Keywords) []models.KeywordTrendBucket {
	buckets := make(map[bucketKey]*models.KeywordTrendBucket)
	for _, item := range items {
		if !window.Contains(item.CreatedAt) {
			continue
		}
		hour := item.CreatedAt.UTC().Truncate(time.Hour)
		source := item.SourceName
		if source == "" {
			source = unknownSource
		}
		for _, kw := range keywords.For(item) {
			key := bucketKey{keyword: kw, hour: hour}
			b, ok := buckets[key]
			if !ok {
				b = &models.KeywordTrendBucket{Keyword: kw, HourBucket: hour, SourceCounts: map[string]int{}}
				buckets[key] = b
			}
			b.MentionCount++
			b.SentimentCounts.Add(item.Sentiment)
			b.SourceCounts[source]++
		}
	}

	out := make([]models.KeywordTrendBucket, 0, len(buckets))
	for _, b := range buckets {
		if b.MentionCount > 0 {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HourBucket.Equal(out[j].HourBucket) {
			return out[i].HourBucket.Before(out[j].HourBucket)
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

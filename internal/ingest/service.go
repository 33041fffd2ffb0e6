// Package ingest screens, classifies and persists raw content arriving from
// the scrapers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/classifier"
	"github.com/DeafMist/civic-radar/internal/dedupe"
	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/processing"
)

// Screener decides whether an incoming item duplicates stored content.
type Screener interface {
	Screen(ctx context.Context, item models.ContentItem) (dedupe.Verdict, error)
	MarkAccepted(hash string)
}

// Classifier labels an item.
type Classifier interface {
	Classify(ctx context.Context, title, text string) (classifier.Result, error)
}

// Store persists accepted items.
type Store interface {
	InsertContent(ctx context.Context, item models.ContentItem) (models.ContentItem, bool, error)
}

// Indexer writes the searchable document.
type Indexer interface {
	IndexContent(ctx context.Context, doc models.ContentDocument) error
}

// Semantic embeds text and checks it against known hoaxes.
type Semantic interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	HoaxMatchesForVector(ctx context.Context, vector []float32, threshold float64) (models.HoaxMatch, error)
}

// Options tunes the pipeline.
type Options struct {
	ClassifierTimeout time.Duration
	StoreTimeout      time.Duration
	// HoaxMatchThreshold is the cosine similarity to a flagged hoax that counts as a match.
	HoaxMatchThreshold float64
	// HoaxSuspectAt flags the indexed document once hoax probability reaches it.
	HoaxSuspectAt float64
	TitleWords    int
}

// Status is the outcome class of one processed payload.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

// Outcome describes what happened to one payload.
type Outcome struct {
	Status  Status
	ID      string
	Verdict dedupe.Verdict
	Indexed bool
}

// Service runs the ingest pipeline.
type Service struct {
	screener   Screener
	classifier Classifier
	store      Store
	indexer    Indexer
	semantic   Semantic
	extractor  *processing.KeywordExtractor
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// NewService wires the pipeline. semantic may be nil.
func NewService(screener Screener, cls Classifier, store Store, indexer Indexer, semantic Semantic, extractor *processing.KeywordExtractor, opts Options, log zerolog.Logger) *Service {
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = 30 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	if opts.HoaxMatchThreshold <= 0 {
		opts.HoaxMatchThreshold = 0.85
	}
	if opts.HoaxSuspectAt <= 0 {
		opts.HoaxSuspectAt = 0.7
	}
	if opts.TitleWords <= 0 {
		opts.TitleWords = 10
	}
	if extractor == nil {
		extractor = processing.NewKeywordExtractor(nil, 5, nil)
	}
	return &Service{
		screener:   screener,
		classifier: cls,
		store:      store,
		indexer:    indexer,
		semantic:   semantic,
		extractor:  extractor,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// Process runs one raw payload through the pipeline. Errors wrapping
// failure.ErrData mean the payload can never succeed.
func (s *Service) Process(ctx context.Context, raw []byte) (Outcome, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return Outcome{}, err
	}

	title := payload.Title
	if title == "" {
		title = processing.GenerateTitleFromText(payload.Text, s.opts.TitleWords)
	}
	ts := ParseTimestamp(payload.Timestamp)
	if ts.IsZero() {
		ts = s.now().UTC()
	}

	item := models.ContentItem{
		RawContent: payload.Text,
		SourceName: payload.Source,
		Title:      title,
		URL:        payload.URL,
		CreatedAt:  ts,
		Sentiment:  models.SentimentNeutral,
	}

	verdict, err := s.screener.Screen(ctx, item)
	if err != nil {
		return Outcome{}, fmt.Errorf("screen: %w", err)
	}
	if verdict.Duplicate {
		s.log.Debug().
			Str("method", string(verdict.Method)).
			Str("original_id", verdict.OriginalID).
			Float64("score", verdict.SimilarityScore).
			Msg("duplicate content")
		return Outcome{Status: StatusDuplicate, ID: verdict.OriginalID, Verdict: verdict}, nil
	}

	item.ID = uuid.NewString()
	item.NormalizedContent = verdict.Normalized
	item.ContentHash = verdict.Hash

	s.classify(ctx, &item)
	vector := s.checkHoax(ctx, &item, verdict.Vector)

	saved, inserted, err := s.insert(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	if !inserted {
		// Lost the race to a concurrent insert of the same hash.
		s.screener.MarkAccepted(item.ContentHash)
		verdict.Duplicate, verdict.Method, verdict.SimilarityScore = true, models.MethodExact, 1
		return Outcome{Status: StatusDuplicate, Verdict: verdict}, nil
	}
	s.screener.MarkAccepted(saved.ContentHash)

	out := Outcome{Status: StatusAccepted, ID: saved.ID, Verdict: verdict}
	if err := s.index(ctx, saved, vector); err != nil {
		// The item is committed; a retry would be screened out as a duplicate.
		s.log.Error().Err(err).Str("id", saved.ID).Msg("index content")
		return out, nil
	}
	out.Indexed = true

	s.log.Info().
		Str("id", saved.ID).
		Str("source", saved.SourceName).
		Str("category", saved.Category).
		Int("urgency", saved.UrgencyLevel).
		Msg("content accepted")
	return out, nil
}

func (s *Service) classify(ctx context.Context, item *models.ContentItem) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ClassifierTimeout)
	defer cancel()

	res, err := s.classifier.Classify(ctx, item.Title, item.RawContent)
	if err != nil {
		s.log.Warn().Err(err).Str("id", item.ID).Msg("classification failed, using defaults")
	} else {
		item.Category = res.Category
		item.Sentiment = res.Sentiment
		item.UrgencyLevel = res.UrgencyLevel
		item.HoaxProbability = res.HoaxProbability
		item.Keywords = res.Keywords
	}
	if len(item.Keywords) == 0 {
		item.Keywords = s.extractor.Extract(item.Title + " " + item.RawContent)
	}
}

// checkHoax raises the hoax probability when the item is close to content
// already flagged. vector is the screening embedding, if any; the item is
// embedded only when it is nil. It returns the embedding for the indexer.
func (s *Service) checkHoax(ctx context.Context, item *models.ContentItem, vector []float32) []float32 {
	if s.semantic == nil {
		return vector
	}
	if vector == nil {
		var err error
		vector, err = s.semantic.Embed(ctx, item.NormalizedContent)
		if err != nil {
			s.log.Warn().Err(err).Str("id", item.ID).Msg("embedding failed")
			return nil
		}
	}
	match, err := s.semantic.HoaxMatchesForVector(ctx, vector, s.opts.HoaxMatchThreshold)
	if err != nil {
		s.log.Warn().Err(err).Str("id", item.ID).Msg("hoax lookup failed")
		return vector
	}
	if match.IsMatch && match.Confidence > item.HoaxProbability {
		s.log.Info().Str("id", item.ID).Float64("confidence", match.Confidence).Int("matches", len(match.Matches)).Msg("resembles known hoax")
		item.HoaxProbability = match.Confidence
	}
	return vector
}

func (s *Service) insert(ctx context.Context, item models.ContentItem) (models.ContentItem, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	saved, inserted, err := s.store.InsertContent(ctx, item)
	if err != nil {
		return item, false, fmt.Errorf("insert content: %w: %v", failure.ErrTransientIO, err)
	}
	return saved, inserted, nil
}

func (s *Service) index(ctx context.Context, item models.ContentItem, vector []float32) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	return s.indexer.IndexContent(ctx, models.ContentDocument{
		ID:              item.ID,
		Title:           item.Title,
		Text:            item.RawContent,
		Timestamp:       item.CreatedAt,
		Keywords:        item.Keywords,
		Source:          item.SourceName,
		URLs:            processing.ExtractURLs(item.RawContent),
		Category:        item.Category,
		UrgencyLevel:    item.UrgencyLevel,
		HoaxProbability: item.HoaxProbability,
		HoaxSuspect:     item.HoaxProbability >= s.opts.HoaxSuspectAt,
		Embedding:       vector,
	})
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, failure.ErrData)
}

package semantic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/semantic"
)

type stubEmbedder struct {
	err   error
	delay time.Duration
}

func (s stubEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0}, nil
}

type stubIndex struct {
	last elasticsearch.KNNParams
	hits []elasticsearch.KNNHit
}

func (s *stubIndex) KNN(_ context.Context, params elasticsearch.KNNParams) ([]elasticsearch.KNNHit, error) {
	s.last = params
	return s.hits, nil
}

func TestFindSimilarTextMapsHits(t *testing.T) {
	idx := &stubIndex{hits: []elasticsearch.KNNHit{
		{Cosine: 0.97, Doc: models.ContentDocument{ID: "a", Text: "banjir"}},
	}}
	g := semantic.New(stubEmbedder{}, idx, time.Second, zerolog.Nop())

	items, err := g.FindSimilarText(context.Background(), "banjir besar", 0.9, 3)
	require.NoError(t, err)
	require.Equal(t, []models.SimilarItem{{ID: "a", Content: "banjir", SimilarityScore: 0.97}}, items)
	require.Equal(t, 3, idx.last.K)
	require.InDelta(t, 0.9, idx.last.MinCosine, 1e-9)
	require.False(t, idx.last.HoaxOnly)
}

func TestFindPotentialHoaxMatches(t *testing.T) {
	idx := &stubIndex{hits: []elasticsearch.KNNHit{
		{Cosine: 0.91, Doc: models.ContentDocument{ID: "h1", HoaxProbability: 0.9}},
		{Cosine: 0.95, Doc: models.ContentDocument{ID: "h2", HoaxProbability: 0.8}},
	}}
	g := semantic.New(stubEmbedder{}, idx, time.Second, zerolog.Nop())

	match, err := g.FindPotentialHoaxMatches(context.Background(), "vaksin berbahaya", 0.9)
	require.NoError(t, err)
	require.True(t, match.IsMatch)
	require.InDelta(t, 0.95, match.Confidence, 1e-9)
	require.Len(t, match.Matches, 2)
	require.True(t, idx.last.HoaxOnly)
}

func TestNoHoaxMatch(t *testing.T) {
	g := semantic.New(stubEmbedder{}, &stubIndex{}, time.Second, zerolog.Nop())
	match, err := g.FindPotentialHoaxMatches(context.Background(), "jadwal posyandu", 0.9)
	require.NoError(t, err)
	require.False(t, match.IsMatch)
	require.Zero(t, match.Confidence)
}

func TestEmbedFailureSurfaces(t *testing.T) {
	g := semantic.New(stubEmbedder{err: errors.New("quota")}, &stubIndex{}, time.Second, zerolog.Nop())
	_, err := g.FindSimilarText(context.Background(), "x", 0.9, 3)
	require.Error(t, err)
}

func TestEmbedTimeout(t *testing.T) {
	g := semantic.New(stubEmbedder{delay: time.Second}, &stubIndex{}, 20*time.Millisecond, zerolog.Nop())
	_, err := g.Embed(context.Background(), "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Package semantic answers "what stored content means the same thing as this
// text" by embedding the text and running a kNN query over the content index.
//
// Every call carries its own timeout. Callers treat any error as "no semantic
// result"; the gateway never decides whether a run fails.
package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/models"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex runs nearest-neighbour queries.
type VectorIndex interface {
	KNN(ctx context.Context, params elasticsearch.KNNParams) ([]elasticsearch.KNNHit, error)
}

// Gateway combines an embedder with a vector index.
type Gateway struct {
	embedder Embedder
	index    VectorIndex
	timeout  time.Duration
	log      zerolog.Logger
}

// New builds a gateway; timeout bounds each embed or query call.
func New(embedder Embedder, index VectorIndex, timeout time.Duration, log zerolog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{embedder: embedder, index: index, timeout: timeout, log: log}
}

// Embed returns the vector for text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

// FindSimilar returns up to maxResults stored items whose cosine similarity
// to vector is at least threshold, best first.
func (g *Gateway) FindSimilar(ctx context.Context, vector []float32, threshold float64, maxResults int) ([]models.SimilarItem, error) {
	return g.query(ctx, elasticsearch.KNNParams{Vector: vector, K: maxResults, MinCosine: threshold})
}

// FindSimilarText embeds text and calls FindSimilar.
func (g *Gateway) FindSimilarText(ctx context.Context, text string, threshold float64, maxResults int) ([]models.SimilarItem, error) {
	vec, err := g.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return g.FindSimilar(ctx, vec, threshold, maxResults)
}

// FindPotentialHoaxMatches compares text against content already flagged as
// a hoax suspect.
func (g *Gateway) FindPotentialHoaxMatches(ctx context.Context, text string, threshold float64) (models.HoaxMatch, error) {
	vec, err := g.Embed(ctx, text)
	if err != nil {
		return models.HoaxMatch{}, err
	}
	return g.HoaxMatchesForVector(ctx, vec, threshold)
}

// HoaxMatchesForVector is FindPotentialHoaxMatches for an already embedded text.
func (g *Gateway) HoaxMatchesForVector(ctx context.Context, vector []float32, threshold float64) (models.HoaxMatch, error) {
	matches, err := g.query(ctx, elasticsearch.KNNParams{Vector: vector, K: 5, MinCosine: threshold, HoaxOnly: true})
	if err != nil {
		return models.HoaxMatch{}, err
	}
	out := models.HoaxMatch{Matches: matches}
	for _, m := range matches {
		if m.SimilarityScore > out.Confidence {
			out.Confidence = m.SimilarityScore
		}
	}
	out.IsMatch = len(matches) > 0
	return out, nil
}

func (g *Gateway) query(ctx context.Context, params elasticsearch.KNNParams) ([]models.SimilarItem, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	hits, err := g.index.KNN(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	g.log.Debug().Int("hits", len(hits)).Dur("took", time.Since(started)).Bool("hoax_only", params.HoaxOnly).Msg("vector query")

	items := make([]models.SimilarItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, models.SimilarItem{
			ID:              hit.Doc.ID,
			Content:         hit.Doc.Text,
			SimilarityScore: hit.Cosine,
			CreatedAt:       hit.Doc.Timestamp,
			HoaxProbability: hit.Doc.HoaxProbability,
		})
	}
	return items, nil
}

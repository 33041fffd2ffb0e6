// Package embedding turns text into dense vectors through the OpenAI embeddings API.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// maxInputRunes keeps requests well under the model's token limit.
const maxInputRunes = 8000

// OpenAI embeds text with a fixed model and dimension count.
type OpenAI struct {
	svc   *openai.EmbeddingService
	model string
	dims  int
}

// NewOpenAI builds an embedder. baseURL may be empty for the public API.
func NewOpenAI(apiKey, baseURL, model string, dims int, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	client := openai.NewClient(reqOpts...)
	return &OpenAI{svc: &client.Embeddings, model: model, dims: dims}
}

// Dims reports the vector size the embedder requests.
func (e *OpenAI) Dims() int {
	return e.dims
}

// Embed returns the embedding of text as float32, the element type of the index.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	if r := []rune(text); len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dims > 0 {
		params.Dimensions = openai.Int(int64(e.dims))
	}

	resp, err := e.svc.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

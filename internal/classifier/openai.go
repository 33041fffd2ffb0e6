// Package classifier labels content with category, sentiment, urgency, hoax
// likelihood and keywords using an OpenAI chat model.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/DeafMist/civic-radar/internal/models"
)

// Categories the model may return. Anything else becomes "other".
var Categories = []string{
	"infrastructure", "disaster", "health", "education", "environment",
	"security", "economy", "governance", "social", "other",
}

// Result is the classifier's verdict for one item.
type Result struct {
	Category        string           `json:"category"`
	Sentiment       models.Sentiment `json:"sentiment"`
	UrgencyLevel    int              `json:"urgency_level"`
	HoaxProbability float64          `json:"hoax_probability"`
	Keywords        []string         `json:"keywords"`
}

// OpenAI classifies through the chat completions API.
type OpenAI struct {
	svc          *openai.ChatCompletionService
	model        string
	keywordLimit int
}

// NewOpenAI builds a classifier. baseURL may be empty for the public API.
func NewOpenAI(apiKey, baseURL, model string, keywordLimit int, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	client := openai.NewClient(reqOpts...)
	if keywordLimit <= 0 {
		keywordLimit = 5
	}
	return &OpenAI{svc: &client.Chat.Completions, model: model, keywordLimit: keywordLimit}
}

// Classify asks the model for a structured label set.
func (c *OpenAI) Classify(ctx context.Context, title, text string) (Result, error) {
	response, err := c.svc.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(buildPrompt(title, text, c.keywordLimit)),
					},
				},
			},
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(300),
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai request failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return Result{}, fmt.Errorf("no response from openai")
	}

	return Parse(response.Choices[0].Message.Content, c.keywordLimit)
}

const systemPrompt = "You triage citizen reports and local news for a regional government. " +
	"Answer with a single JSON object and nothing else."

func buildPrompt(title, text string, keywordLimit int) string {
	var sb strings.Builder
	sb.WriteString("Classify this content. Provide:\n")
	sb.WriteString("- category: one of [" + strings.Join(Categories, ", ") + "]\n")
	sb.WriteString("- sentiment: positive, negative, or neutral\n")
	sb.WriteString("- urgency_level: integer 0-10, how soon the government must act\n")
	sb.WriteString("- hoax_probability: 0.0-1.0, likelihood the content is misinformation\n")
	sb.WriteString(fmt.Sprintf("- keywords: up to %d lower-case topic words, most important first\n\n", keywordLimit))
	sb.WriteString(`{"category": "infrastructure", "sentiment": "negative", "urgency_level": 7, "hoax_probability": 0.1, "keywords": ["jalan", "rusak"]}`)
	sb.WriteString("\n\n")
	if title != "" {
		sb.WriteString(fmt.Sprintf("Title: %s\n", title))
	}
	sb.WriteString(fmt.Sprintf("Content: %s\n", text))
	return sb.String()
}

// Parse decodes a model reply, tolerating markdown code fences, and clamps
// every field into its valid range.
func Parse(content string, keywordLimit int) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw struct {
		Category        string   `json:"category"`
		Sentiment       string   `json:"sentiment"`
		UrgencyLevel    float64  `json:"urgency_level"`
		HoaxProbability float64  `json:"hoax_probability"`
		Keywords        []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Result{}, fmt.Errorf("failed to parse openai response: %w", err)
	}

	res := Result{
		Category:        normalizeCategory(raw.Category),
		Sentiment:       models.ParseSentiment(strings.ToLower(strings.TrimSpace(raw.Sentiment))),
		UrgencyLevel:    clampInt(int(raw.UrgencyLevel+0.5), 0, 10),
		HoaxProbability: clampFloat(raw.HoaxProbability, 0, 1),
	}

	seen := make(map[string]struct{}, len(raw.Keywords))
	for _, kw := range raw.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		res.Keywords = append(res.Keywords, kw)
		if keywordLimit > 0 && len(res.Keywords) == keywordLimit {
			break
		}
	}
	return res, nil
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return "other"
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

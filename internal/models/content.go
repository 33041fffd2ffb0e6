package models

import "time"

// Sentiment is the classifier's polarity label for a content item.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment maps free-form labels onto the three known values; anything
// unrecognised counts as neutral.
func ParseSentiment(raw string) Sentiment {
	switch Sentiment(raw) {
	case SentimentPositive, SentimentNegative:
		return Sentiment(raw)
	default:
		return SentimentNeutral
	}
}

// ContentItem is a scraped piece of content as held by the content store.
type ContentItem struct {
	ID                string    `json:"id"`
	RawContent        string    `json:"raw_content"`
	NormalizedContent string    `json:"normalized_content"`
	ContentHash       string    `json:"content_hash"`
	SourceName        string    `json:"source_name"`
	Title             string    `json:"title,omitempty"`
	URL               string    `json:"url,omitempty"`
	Category          string    `json:"category,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UrgencyLevel      int       `json:"urgency_level"`
	Sentiment         Sentiment `json:"sentiment"`
	HoaxProbability   float64   `json:"hoax_probability"`
	Keywords          []string  `json:"keywords"`
}

// DuplicateMethod names the tier that matched a duplicate pair.
type DuplicateMethod string

const (
	MethodExact    DuplicateMethod = "exact"
	MethodFuzzy    DuplicateMethod = "fuzzy"
	MethodSemantic DuplicateMethod = "semantic"
)

// DuplicatePair links a later item to the earlier one it duplicates.
type DuplicatePair struct {
	OriginalID      string          `json:"original_id"`
	DuplicateID     string          `json:"duplicate_id"`
	SimilarityScore float64         `json:"similarity_score"`
	Method          DuplicateMethod `json:"method"`
}

// SentimentCounts tallies mentions per sentiment.
type SentimentCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Add increments the counter for s.
func (c *SentimentCounts) Add(s Sentiment) {
	switch s {
	case SentimentPositive:
		c.Positive++
	case SentimentNegative:
		c.Negative++
	default:
		c.Neutral++
	}
}

// KeywordTrendBucket aggregates one keyword over one UTC hour.
type KeywordTrendBucket struct {
	Keyword         string          `json:"keyword"`
	HourBucket      time.Time       `json:"hour_bucket"`
	MentionCount    int             `json:"mention_count"`
	SentimentCounts SentimentCounts `json:"sentiment_counts"`
	SourceCounts    map[string]int  `json:"source_counts"`
}

// IssueStatus is the lifecycle state of an emerging issue.
type IssueStatus string

const (
	IssueActive   IssueStatus = "active"
	IssueResolved IssueStatus = "resolved"
)

// EmergingIssue is a keyword group whose mention rate or size crossed the alert thresholds.
type EmergingIssue struct {
	Title               string      `json:"title"`
	Category            string      `json:"category"`
	Keywords            []string    `json:"keywords"`
	Velocity            float64     `json:"velocity"`
	MentionCount        int         `json:"mention_count"`
	UrgencyScore        int         `json:"urgency_score"`
	DepartmentRelevance []string    `json:"department_relevance"`
	Status              IssueStatus `json:"status"`
	FirstDetected       time.Time   `json:"first_detected"`
	LastConfirmed       time.Time   `json:"last_confirmed"`
}

// ContentDocument is the search-index representation of an accepted item.
type ContentDocument struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
	Keywords        []string  `json:"keywords"`
	Source          string    `json:"source"`
	URLs            []string  `json:"urls"`
	Category        string    `json:"category,omitempty"`
	UrgencyLevel    int       `json:"urgency_level"`
	HoaxProbability float64   `json:"hoax_probability"`
	HoaxSuspect     bool      `json:"hoax_suspect"`
	Embedding       []float32 `json:"embedding,omitempty"`
}

// SimilarItem is a semantically close stored item returned by the vector gateway.
type SimilarItem struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	SimilarityScore float64   `json:"similarity_score"`
	CreatedAt       time.Time `json:"created_at"`
	HoaxProbability float64   `json:"hoax_probability"`
}

// HoaxMatch summarises how closely a text resembles content already flagged as hoax.
type HoaxMatch struct {
	IsMatch    bool          `json:"is_match"`
	Confidence float64       `json:"confidence"`
	Matches    []SimilarItem `json:"matches"`
}

package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/models"
)

// Client wraps go-elasticsearch with helpers for the content index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   zerolog.Logger
}

// SearchParams narrow the search endpoint query.
type SearchParams struct {
	Query       string
	Keywords    []string
	Source      string
	Category    string
	HoaxSuspect *bool
	From        int
	Size        int
	Sort        string
	Start       *time.Time
	End         *time.Time
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64                    `json:"total"`
	Items []models.ContentDocument `json:"items"`
}

// KNNParams configures a vector query.
type KNNParams struct {
	Vector []float32
	K      int
	// MinCosine drops hits below this cosine similarity.
	MinCosine float64
	// HoaxOnly restricts candidates to documents flagged as hoax suspects.
	HoaxOnly bool
}

// KNNHit is a vector query hit with its cosine similarity.
type KNNHit struct {
	Cosine float64
	Doc    models.ContentDocument
}

// New instantiates the Elasticsearch client.
func New(addr, index string, log zerolog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{es: es, index: index, log: log.With().Str("index", index).Logger()}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// EnsureIndex creates the content index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	exists, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	payload, err := json.Marshal(indexMapping(dims))
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// Another instance may have won the race.
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(body)))
	}
	c.log.Info().Int("dims", dims).Msg("content index created")
	return nil
}

func indexMapping(dims int) map[string]any {
	properties := map[string]any{
		"id":               map[string]any{"type": "keyword"},
		"title":            map[string]any{"type": "text"},
		"text":             map[string]any{"type": "text"},
		"timestamp":        map[string]any{"type": "date"},
		"keywords":         map[string]any{"type": "keyword"},
		"source":           map[string]any{"type": "keyword"},
		"urls":             map[string]any{"type": "keyword"},
		"category":         map[string]any{"type": "keyword"},
		"urgency_level":    map[string]any{"type": "integer"},
		"hoax_probability": map[string]any{"type": "float"},
		"hoax_suspect":     map[string]any{"type": "boolean"},
	}
	if dims > 0 {
		properties["embedding"] = map[string]any{
			"type":       "dense_vector",
			"dims":       dims,
			"index":      true,
			"similarity": "cosine",
		}
	}
	return map[string]any{"mappings": map[string]any{"properties": properties}}
}

// IndexContent writes a document into Elasticsearch.
func (c *Client) IndexContent(ctx context.Context, doc models.ContentDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// SearchContent executes a bool query with optional filters.
func (c *Client) SearchContent(ctx context.Context, params SearchParams) (*SearchResult, error) {
	payload, err := json.Marshal(searchBody(params))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	parsed, err := decodeHits(res.Body)
	if err != nil {
		return nil, err
	}

	items := make([]models.ContentDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

func searchBody(params SearchParams) map[string]any {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 2)
	filters := make([]map[string]any, 0, 4)

	if params.Query != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  params.Query,
				"fields": []string{"title^2", "text"},
			},
		})
	}

	if len(params.Keywords) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{
				"keywords": params.Keywords,
			},
		})
	}

	if params.Source != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{
				"source": params.Source,
			},
		})
	}

	if params.Category != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{
				"category": params.Category,
			},
		})
	}

	if params.HoaxSuspect != nil {
		filters = append(filters, map[string]any{
			"term": map[string]any{
				"hoax_suspect": *params.HoaxSuspect,
			},
		})
	}

	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"timestamp": rangeQuery,
			},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}

	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"_source":          map[string]any{"excludes": []string{"embedding"}},
		"query": map[string]any{
			"bool": boolQuery,
		},
	}

	sortField := params.Sort
	if sortField == "" {
		sortField = "timestamp:desc"
	}

	parts := strings.Split(sortField, ":")
	order := "desc"
	field := parts[0]
	if field == "" {
		field = "timestamp"
	}
	if len(parts) > 1 && parts[1] != "" {
		order = parts[1]
	}
	body["sort"] = []map[string]any{
		{field: map[string]any{"order": order}},
	}
	return body
}

// KNN runs an approximate nearest-neighbour query over the embedding field.
// Elasticsearch scores cosine kNN hits as (1+cos)/2; hits are returned with
// the cosine recovered and those under MinCosine dropped.
func (c *Client) KNN(ctx context.Context, params KNNParams) ([]KNNHit, error) {
	if len(params.Vector) == 0 {
		return nil, fmt.Errorf("knn: empty query vector")
	}
	if params.K <= 0 {
		params.K = 5
	}

	knn := map[string]any{
		"field":          "embedding",
		"query_vector":   params.Vector,
		"k":              params.K,
		"num_candidates": params.K * 10,
	}
	if params.HoaxOnly {
		knn["filter"] = map[string]any{"term": map[string]any{"hoax_suspect": true}}
	}
	body := map[string]any{
		"knn":     knn,
		"size":    params.K,
		"_source": map[string]any{"excludes": []string{"embedding"}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal knn body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("knn search failed: %s", strings.TrimSpace(string(data)))
	}

	parsed, err := decodeHits(res.Body)
	if err != nil {
		return nil, err
	}

	hits := make([]KNNHit, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		cos := ScoreToCosine(hit.Score)
		if cos < params.MinCosine {
			continue
		}
		hits = append(hits, KNNHit{Cosine: cos, Doc: hit.Source})
	}
	return hits, nil
}

// ScoreToCosine inverts the (1+cos)/2 scoring of cosine dense_vector fields.
func ScoreToCosine(score float64) float64 {
	return 2*score - 1
}

type hitsResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score  float64                `json:"_score"`
			Source models.ContentDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func decodeHits(r io.Reader) (*hitsResponse, error) {
	var parsed hitsResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &parsed, nil
}

// DeleteByIDs removes documents by id, e.g. after the store dropped duplicates.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return c.deleteByQuery(ctx, map[string]any{"ids": map[string]any{"values": ids}}, len(ids))
}

// DeleteOlderThan removes documents older than maxAge using batched delete-by-query.
// It loops until a batch returns fewer deleted documents than the requested batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		deleted, err := c.deleteByQuery(ctx, map[string]any{
			"range": map[string]any{
				"timestamp": map[string]any{
					"lte": cutoff,
				},
			},
		}, batchSize)
		totalDeleted += deleted
		if err != nil {
			return totalDeleted, err
		}

		if deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

func (c *Client) deleteByQuery(ctx context.Context, query map[string]any, batchSize int) (int64, error) {
	payload, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(payload),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithScrollSize(batchSize),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Health pings Elasticsearch to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

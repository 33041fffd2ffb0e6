package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSearchBodyFilters(t *testing.T) {
	suspect := true
	body := searchBody(SearchParams{
		Keywords:    []string{"banjir"},
		Category:    "disaster",
		HoaxSuspect: &suspect,
		Size:        500,
		Sort:        "urgency_level:asc",
	})

	require.Equal(t, 200, body["size"])
	filters := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]map[string]any)
	require.Len(t, filters, 3)
	require.Equal(t, []map[string]any{{"urgency_level": map[string]any{"order": "asc"}}}, body["sort"])
}

func TestSearchBodyMatchAll(t *testing.T) {
	body := searchBody(SearchParams{})
	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]map[string]any)
	require.Contains(t, must[0], "match_all")
	require.Equal(t, 20, body["size"])
}

func TestScoreToCosine(t *testing.T) {
	require.InDelta(t, 1.0, ScoreToCosine(1), 1e-9)
	require.InDelta(t, 0.0, ScoreToCosine(0.5), 1e-9)
	require.InDelta(t, 0.9, ScoreToCosine(0.95), 1e-9)
}

func TestKNNConvertsScoresAndFilters(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &captured)
		_, _ = io.WriteString(w, `{"hits":{"total":{"value":2},"hits":[
			{"_score":0.98,"_source":{"id":"a","text":"banjir"}},
			{"_score":0.80,"_source":{"id":"b","text":"macet"}}
		]}}`)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "content", zerolog.Nop())
	require.NoError(t, err)

	hits, err := client.KNN(context.Background(), KNNParams{Vector: []float32{0.1, 0.2}, K: 3, MinCosine: 0.9, HoaxOnly: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].Doc.ID)
	require.InDelta(t, 0.96, hits[0].Cosine, 1e-9)

	knn := captured["knn"].(map[string]any)
	require.Equal(t, "embedding", knn["field"])
	require.EqualValues(t, 30, knn["num_candidates"])
	require.Contains(t, knn, "filter")
}

func TestKNNRejectsEmptyVector(t *testing.T) {
	client, err := New("http://127.0.0.1:1", "content", zerolog.Nop())
	require.NoError(t, err)
	_, err = client.KNN(context.Background(), KNNParams{})
	require.Error(t, err)
}

package embedding_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v2/option"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/embedding"
)

func TestEmbedConvertsVector(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25,1]}],"usage":{"prompt_tokens":3,"total_tokens":3}}`)
	}))
	defer srv.Close()

	e := embedding.NewOpenAI("test-key", srv.URL, "text-embedding-3-small", 3, option.WithMaxRetries(0))
	vec, err := e.Embed(context.Background(), "jalan rusak")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, -0.25, 1}, vec)
	require.Equal(t, "jalan rusak", req["input"])
	require.EqualValues(t, 3, req["dimensions"])
	require.Equal(t, 3, e.Dims())
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	e := embedding.NewOpenAI("test-key", "http://127.0.0.1:1", "m", 0, option.WithMaxRetries(0))
	_, err := e.Embed(context.Background(), "   ")
	require.Error(t, err)
}

func TestEmbedSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	e := embedding.NewOpenAI("bad", srv.URL, "m", 0, option.WithMaxRetries(0))
	_, err := e.Embed(context.Background(), "banjir")
	require.Error(t, err)
}

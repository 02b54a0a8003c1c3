package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"byggassistent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) config.EmbeddingConfig {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return config.EmbeddingConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL,
		Model:          "text-embedding-3-small",
		TimeoutSeconds: 5,
	}
}

func writeEmbeddings(w http.ResponseWriter, vectors [][]float32) {
	data := make([]map[string]any, len(vectors))
	for i, v := range vectors {
		data[i] = map[string]any{"object": "embedding", "index": i, "embedding": v}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  "text-embedding-3-small",
		"data":   data,
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func TestCreateEmbedding(t *testing.T) {
	var auth string
	cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeEmbeddings(w, [][]float32{{0.1, 0.2, 0.3}})
	})
	client, err := NewClient(cfg)
	require.NoError(t, err)

	vec, err := client.CreateEmbedding(context.Background(), "Rømningsvei skal være bred")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "Bearer sk-test", auth)
}

func TestCreateEmbedding_ProviderError(t *testing.T) {
	cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	})
	client, err := NewClient(cfg)
	require.NoError(t, err)

	vec, err := client.CreateEmbedding(context.Background(), "vei")
	assert.Nil(t, vec)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCreateEmbedding_ZeroVector(t *testing.T) {
	cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbeddings(w, [][]float32{{0, 0, 0}})
	})
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.CreateEmbedding(context.Background(), "vei")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCreateEmbeddings_Empty(t *testing.T) {
	client, err := NewClient(config.EmbeddingConfig{BaseURL: "http://127.0.0.1:0", Model: "m"})
	require.NoError(t, err)

	vectors, err := client.CreateEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

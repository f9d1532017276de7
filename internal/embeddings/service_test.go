package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-aether/aetheros/internal/doctrine"
)

// The service must satisfy the knowledge base's embedder interface.
var _ doctrine.Embedder = (*Service)(nil)

func newTestServer(t *testing.T, vectors [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func TestEmbedSingleText(t *testing.T) {
	srv := newTestServer(t, [][]float32{{0.1, 0.2, 0.3}})
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "bge-small"})
	require.NoError(t, err)

	vec, err := svc.Embed(context.Background(), "doctrine passage")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedDocuments(t *testing.T) {
	srv := newTestServer(t, [][]float32{{0.1}, {0.2}})
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	svc, err := NewService(Config{BaseURL: "http://localhost:8080"})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "x")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewServiceRequiresBaseURL(t *testing.T) {
	_, err := NewService(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

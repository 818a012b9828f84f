package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateOversized(t *testing.T) {
	native := make([]float32, 4096)
	for i := range native {
		native[i] = float32(i)
	}

	got, err := Truncate(native, 1920)
	require.NoError(t, err)
	require.Len(t, got, 1920)
	for i, f := range got {
		require.Equal(t, float32(i), f, "component %d must equal the native prefix", i)
	}

	// Truncation copies; mutating the native vector must not leak through.
	native[0] = -1
	assert.Equal(t, float32(0), got[0])
}

func TestTruncateExactFit(t *testing.T) {
	got, err := Truncate([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)
}

func TestTruncateShortVectorFails(t *testing.T) {
	_, err := Truncate([]float32{1, 2, 3}, 1920)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embeddinggemma", req.Model)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "", 3)
	require.NoError(t, err)
	assert.Equal(t, "ollama:embeddinggemma", e.Name())

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "missing", 768)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOllamaEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "", 768)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestGenAIRequiresKey(t *testing.T) {
	_, err := NewGenAIEngine(context.Background(), "", "gemini-embedding-001", 3072)
	assert.Error(t, err)
}

// Package embedding provides the EmbedText capability: a provider-backed
// engine plus the prefix truncation that fits native model output into the
// collection's stored dimension.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"blogwatch/internal/config"
)

// ErrEmbeddingFailed marks an unusable embedding result. The pipeline
// retries once and then skips the post.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the model's native output dimensionality.
	Dimensions() int

	// Name returns the engine name for logs.
	Name() string
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(ctx context.Context, cfg config.EmbeddingConfig) (Engine, error) {
	switch cfg.ModelType {
	case "ollama":
		return NewOllamaEngine(cfg.BaseURL, cfg.ModelName, cfg.EmbeddingDimensions)
	case "genai", "":
		return NewGenAIEngine(ctx, cfg.APIKey, cfg.ModelName, cfg.EmbeddingDimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.ModelType)
	}
}

// Truncate fits a native vector into the collection's stored dimension by
// keeping the first dim components (Matryoshka-style prefix truncation).
// A vector shorter than dim cannot be stored and is ErrEmbeddingFailed.
func Truncate(vec []float32, dim int) ([]float32, error) {
	if len(vec) < dim {
		return nil, fmt.Errorf("%w: model returned %d components, need at least %d",
			ErrEmbeddingFailed, len(vec), dim)
	}
	out := make([]float32, dim)
	copy(out, vec[:dim])
	return out, nil
}

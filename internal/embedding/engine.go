// Package embedding provides vector embedding generation for semantic
// retrieval. Two backends are supported: a deterministic local
// feature-hashing engine and Google GenAI. Query and chunk embeddings
// must come from the same engine or cosine comparisons are meaningless.
package embedding

import (
	"context"
	"fmt"
	"math"

	"askdesk/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text. Implementations must be
// safe for concurrent use and deterministic for the same input.
type Engine interface {
	// Embed generates a unit-norm embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "hashed" or "genai".
	Provider string

	// Dimension of produced vectors. Constant per deployment; the index
	// declares the same value.
	Dimension int

	// GenAI configuration.
	GenAIAPIKey string
	GenAIModel  string
	// TaskType: "RETRIEVAL_QUERY" or "RETRIEVAL_DOCUMENT".
	TaskType string
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	log := logging.Get(logging.CategoryEmbedding)
	log.Info("creating embedding engine: provider=%s dimension=%d", cfg.Provider, cfg.Dimension)

	switch cfg.Provider {
	case "hashed", "":
		return NewHashedEngine(cfg.Dimension), nil
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'hashed' or 'genai')", cfg.Provider)
	}
}

// =============================================================================
// VECTOR UTILITIES
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value in [-1, 1]; a zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}

	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// Dot returns the inner product. For unit-norm vectors this equals
// cosine similarity and skips the magnitude work on the hot path.
func Dot(a, b []float32) float64 {
	var dot float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// NormalizeL2 scales vec to unit length in place. A zero vector is left
// unchanged.
func NormalizeL2(vec []float32) {
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(mag)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}

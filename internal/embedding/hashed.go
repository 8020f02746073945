package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// =============================================================================
// HASHED EMBEDDING ENGINE - deterministic, offline, no model download
// =============================================================================

// HashedEngine maps text to a fixed-dimension unit vector by feature
// hashing unigrams and bigrams into signed buckets. It is fully
// deterministic, has no shared mutable state, and needs no network,
// which makes it the engine for tests and air-gapped deployments.
// Semantic quality is far below a learned model; the geometry contracts
// (unit norm, determinism, symmetric query/chunk scheme) are identical.
type HashedEngine struct {
	dim int
}

// NewHashedEngine creates a HashedEngine of the given dimension
// (384 when dim <= 0, matching the reference scheme).
func NewHashedEngine(dim int) *HashedEngine {
	if dim <= 0 {
		dim = 384
	}
	return &HashedEngine{dim: dim}
}

// Embed generates a unit-norm embedding for a single text.
func (e *HashedEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		e.addFeature(vec, tok, 1.0)
		if i+1 < len(tokens) {
			e.addFeature(vec, tok+" "+tokens[i+1], 0.5)
		}
	}

	NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// addFeature hashes a feature into a bucket with a sign derived from a
// second hash, the usual trick to keep bucket collisions unbiased.
func (e *HashedEngine) addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dim))
	if (sum>>32)&1 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// Dimensions returns the dimensionality of embeddings.
func (e *HashedEngine) Dimensions() int { return e.dim }

// Name returns the engine name.
func (e *HashedEngine) Name() string { return "hashed" }

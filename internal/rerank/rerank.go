// Package rerank re-scores retrieval candidates against the
// normalized-query embedding, applies the similarity floor, and
// deduplicates. Shard scores are treated as recall-only: ordering across
// shards and variants is only meaningful after recomputation here.
package rerank

import (
	"sort"

	"askdesk/internal/embedding"
	"askdesk/internal/index"
	"askdesk/internal/logging"
)

// Lookup resolves a chunk id to its stored vector, content, and
// metadata. Satisfied by *index.Store.
type Lookup interface {
	Lookup(chunkID string) (vec []float32, content string, meta index.Metadata, ok bool)
}

// Config parameterizes re-ranking.
type Config struct {
	// SimilarityFloor drops candidates scoring below it. The service
	// default lives in the retrieval config (0.30-0.50 band).
	SimilarityFloor float64
	// MaxPerDocument caps results per source document; 0 disables.
	MaxPerDocument int
}

// Rerank recomputes similarity for each candidate against queryVec via
// the embedding lookup, applies the floor, keeps the first occurrence
// per chunk id, and sorts by similarity descending (stable). Candidates
// missing from the lookup are dropped with a warning.
//
// The output has monotonically non-increasing similarity and distinct
// chunk ids.
func Rerank(queryVec []float32, candidates []index.SearchResult, lookup Lookup, cfg Config) []index.SearchResult {
	log := logging.Get(logging.CategoryRetrieval)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]index.SearchResult, 0, len(candidates))

	for _, cand := range candidates {
		if _, dup := seen[cand.ChunkID]; dup {
			continue
		}
		seen[cand.ChunkID] = struct{}{}

		vec, content, meta, ok := lookup.Lookup(cand.ChunkID)
		if !ok {
			log.Warn("rerank: candidate %s missing from embedding lookup, dropping", cand.ChunkID)
			continue
		}

		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			log.Warn("rerank: candidate %s: %v, dropping", cand.ChunkID, err)
			continue
		}
		if sim < cfg.SimilarityFloor {
			continue
		}

		out = append(out, index.SearchResult{
			ChunkID:    cand.ChunkID,
			Content:    content,
			Metadata:   meta,
			Similarity: sim,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})

	if cfg.MaxPerDocument > 0 {
		out = capPerDocument(out, cfg.MaxPerDocument)
	}
	return out
}

// capPerDocument limits the number of chunks from any single source
// document, preserving rank order.
func capPerDocument(ranked []index.SearchResult, maxPerDoc int) []index.SearchResult {
	counts := make(map[string]int)
	out := ranked[:0]
	for _, r := range ranked {
		if counts[r.Metadata.SourceDocument] >= maxPerDoc {
			continue
		}
		counts[r.Metadata.SourceDocument]++
		out = append(out, r)
	}
	return out
}

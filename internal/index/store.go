package index

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"askdesk/internal/embedding"
	"askdesk/internal/logging"
)

// entry pairs a chunk with its embedding row for the id lookup.
type entry struct {
	chunk  *Chunk
	vector []float32
}

// shard holds one department's chunks and vectors, row-aligned.
type shard struct {
	department string
	chunks     []Chunk
	vectors    [][]float32
}

// Snapshot is one immutable loaded index generation. All reads go
// through a snapshot; a rebuild swaps in a new one atomically.
type Snapshot struct {
	dim    int
	shards map[string]*shard
	byID   map[string]entry
}

// Store is the department-sharded vector store. Safe for concurrent
// readers; the only writer path is the atomic snapshot swap on reload.
type Store struct {
	snap atomic.Pointer[Snapshot]
}

// NewStore creates a store serving the given snapshot.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.snap.Store(snap)
	return s
}

// Swap replaces the current snapshot (rebuild/reload path).
func (s *Store) Swap(snap *Snapshot) {
	old := s.snap.Swap(snap)
	if old != nil {
		logging.Get(logging.CategoryIndex).Info("index snapshot swapped: %d -> %d chunks",
			len(old.byID), len(snap.byID))
	}
}

// NewSnapshot builds a snapshot from chunks carrying their embeddings.
// Chunks whose embedding dimension disagrees with dim are rejected by
// the artifact loader before this point.
func NewSnapshot(chunks []Chunk, dim int) *Snapshot {
	snap := &Snapshot{
		dim:    dim,
		shards: make(map[string]*shard),
		byID:   make(map[string]entry, len(chunks)),
	}

	for i := range chunks {
		c := &chunks[i]
		dept := strings.ToLower(c.Metadata.Department)

		sh, ok := snap.shards[dept]
		if !ok {
			sh = &shard{department: dept}
			snap.shards[dept] = sh
		}
		sh.chunks = append(sh.chunks, *c)
		sh.vectors = append(sh.vectors, c.Embedding)
	}

	// byID entries point into shard slices; build them after the slices
	// have stopped growing.
	for _, sh := range snap.shards {
		for i := range sh.chunks {
			snap.byID[sh.chunks[i].ChunkID] = entry{chunk: &sh.chunks[i], vector: sh.vectors[i]}
		}
	}

	return snap
}

// Search returns up to k nearest neighbors of queryVec within the
// department's shard by cosine similarity (inner product; vectors are
// unit-norm). A missing shard returns an empty slice, never an error.
// Ordering across shards is not globally meaningful; callers re-rank.
func (s *Store) Search(queryVec []float32, department string, k int) []SearchResult {
	snap := s.snap.Load()
	if snap == nil || k <= 0 {
		return nil
	}

	sh, ok := snap.shards[strings.ToLower(department)]
	if !ok {
		return nil
	}

	results := make([]SearchResult, 0, len(sh.chunks))
	for i := range sh.chunks {
		if len(sh.vectors[i]) != len(queryVec) {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    sh.chunks[i].ChunkID,
			Content:    sh.chunks[i].Content,
			Metadata:   sh.chunks[i].Metadata,
			Similarity: embedding.Dot(queryVec, sh.vectors[i]),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// SearchContext is Search with cooperative cancellation: an expired
// context aborts before the shard scan instead of mid-flight.
func (s *Store) SearchContext(ctx context.Context, queryVec []float32, department string, k int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Search(queryVec, department, k), nil
}

// Lookup returns the embedding, content, and metadata for a chunk id,
// or ok=false when the id is not indexed.
func (s *Store) Lookup(chunkID string) (vec []float32, content string, meta Metadata, ok bool) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, "", Metadata{}, false
	}
	e, found := snap.byID[chunkID]
	if !found {
		return nil, "", Metadata{}, false
	}
	return e.vector, e.chunk.Content, e.chunk.Metadata, true
}

// Departments returns the shard names present in the index.
func (s *Store) Departments() []string {
	snap := s.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]string, 0, len(snap.shards))
	for d := range snap.shards {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Dimension returns the declared embedding dimension.
func (s *Store) Dimension() int {
	snap := s.snap.Load()
	if snap == nil {
		return 0
	}
	return snap.dim
}

// Stats returns chunk counts for the loaded snapshot.
func (s *Store) Stats() Stats {
	snap := s.snap.Load()
	st := Stats{PerDepartment: make(map[string]int)}
	if snap == nil {
		return st
	}
	st.Dimension = snap.dim
	for dept, sh := range snap.shards {
		st.PerDepartment[dept] = len(sh.chunks)
		st.TotalChunks += len(sh.chunks)
	}
	return st
}

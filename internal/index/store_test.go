package index

import (
	"testing"
	"time"
)

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func testChunks() []Chunk {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, dept, doc string, idx, hot int) Chunk {
		return Chunk{
			ChunkID:    id,
			Content:    "content of " + id,
			TokenCount: 3,
			Embedding:  unitVec(8, hot),
			Metadata: Metadata{
				ChunkID:        id,
				SourceDocument: doc,
				Department:     dept,
				ChunkIndex:     idx,
				CreatedAt:      now,
			},
		}
	}
	return []Chunk{
		mk("FINANCE_CHUNK_0", "finance", "q4.txt", 0, 0),
		mk("FINANCE_CHUNK_1", "finance", "q4.txt", 1, 1),
		mk("MARKETING_CHUNK_2", "marketing", "plan.txt", 0, 2),
		mk("GENERAL_CHUNK_3", "general", "handbook.txt", 0, 3),
	}
}

func TestStore_SearchOrdersBySimilarity(t *testing.T) {
	store := NewStore(NewSnapshot(testChunks(), 8))

	// Query closer to hot dimension 0 than 1.
	q := []float32{0.9, 0.43589, 0, 0, 0, 0, 0, 0}
	results := store.Search(q, "finance", 10)

	if len(results) != 2 {
		t.Fatalf("expected 2 finance results, got %d", len(results))
	}
	if results[0].ChunkID != "FINANCE_CHUNK_0" {
		t.Errorf("expected FINANCE_CHUNK_0 first, got %s", results[0].ChunkID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("results not ordered: %f < %f", results[0].Similarity, results[1].Similarity)
	}
	for _, r := range results {
		if r.Similarity < -1 || r.Similarity > 1 {
			t.Errorf("similarity %f out of [-1, 1]", r.Similarity)
		}
	}
}

func TestStore_SearchMissingShardReturnsEmpty(t *testing.T) {
	store := NewStore(NewSnapshot(testChunks(), 8))

	results := store.Search(unitVec(8, 0), "legal", 5)
	if len(results) != 0 {
		t.Errorf("expected empty result for missing shard, got %d", len(results))
	}
}

func TestStore_SearchRespectsK(t *testing.T) {
	store := NewStore(NewSnapshot(testChunks(), 8))

	results := store.Search(unitVec(8, 0), "finance", 1)
	if len(results) != 1 {
		t.Fatalf("expected 1 result with k=1, got %d", len(results))
	}
}

func TestStore_Lookup(t *testing.T) {
	store := NewStore(NewSnapshot(testChunks(), 8))

	vec, content, meta, ok := store.Lookup("MARKETING_CHUNK_2")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if meta.Department != "marketing" {
		t.Errorf("department = %s, want marketing", meta.Department)
	}
	if content == "" || len(vec) != 8 {
		t.Errorf("unexpected lookup payload: content=%q dim=%d", content, len(vec))
	}

	if _, _, _, ok := store.Lookup("NOPE"); ok {
		t.Error("expected lookup miss for unknown id")
	}
}

func TestStore_StatsAndDepartments(t *testing.T) {
	store := NewStore(NewSnapshot(testChunks(), 8))

	stats := store.Stats()
	if stats.TotalChunks != 4 {
		t.Errorf("total chunks = %d, want 4", stats.TotalChunks)
	}
	if stats.PerDepartment["finance"] != 2 {
		t.Errorf("finance count = %d, want 2", stats.PerDepartment["finance"])
	}

	depts := store.Departments()
	if len(depts) != 3 {
		t.Errorf("departments = %v, want 3 entries", depts)
	}
}

func TestStore_SwapReplacesSnapshot(t *testing.T) {
	store := NewStore(NewSnapshot(testChunks(), 8))

	store.Swap(NewSnapshot(testChunks()[:1], 8))
	if got := store.Stats().TotalChunks; got != 1 {
		t.Errorf("after swap total chunks = %d, want 1", got)
	}
}

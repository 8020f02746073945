package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"askdesk/internal/audit"
	"askdesk/internal/embedding"
	"askdesk/internal/index"
	"askdesk/internal/rbac"
	"askdesk/internal/textnorm"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

const testDim = 64

func testRBAC(t *testing.T) *rbac.Config {
	t.Helper()
	cfg, err := rbac.NewConfig(
		map[string]rbac.RoleDef{
			"admin":           {Permissions: []string{"*"}},
			"finance_analyst": {Permissions: []string{"read:finance"}, Inherits: []string{"employee"}},
			"marketing_lead":  {Permissions: []string{"read:marketing"}, Inherits: []string{"employee"}},
			"employee":        {Permissions: []string{"read:general"}},
		},
		nil,
		[]string{"finance", "marketing", "general"},
	)
	if err != nil {
		t.Fatalf("rbac config: %v", err)
	}
	return cfg
}

type chunkSpec struct {
	id      string
	dept    string
	content string
	allowed []string
	deny    []string
}

func testStore(t *testing.T, eng embedding.Engine, specs []chunkSpec) *index.Store {
	t.Helper()
	chunks := make([]index.Chunk, 0, len(specs))
	for i, s := range specs {
		vec, err := eng.Embed(context.Background(), s.content)
		if err != nil {
			t.Fatalf("embed fixture: %v", err)
		}
		chunks = append(chunks, index.Chunk{
			ChunkID:    s.id,
			Content:    s.content,
			TokenCount: len(strings.Fields(s.content)),
			Metadata: index.Metadata{
				ChunkID:        s.id,
				SourceDocument: s.dept + ".txt",
				Department:     s.dept,
				ChunkIndex:     i,
				AllowedRoles:   s.allowed,
				ExplicitDeny:   s.deny,
			},
			Embedding: vec,
		})
	}
	return index.NewStore(index.NewSnapshot(chunks, testDim))
}

func defaultSpecs() []chunkSpec {
	return []chunkSpec{
		{id: "FINANCE_CHUNK_0", dept: "finance", content: "quarterly revenue growth"},
		{id: "FINANCE_CHUNK_1", dept: "finance", content: "quarterly revenue restatement",
			allowed: []string{"finance_analyst"}, deny: []string{"finance_analyst"}},
		{id: "MARKETING_CHUNK_2", dept: "marketing", content: "quarterly brand campaign results"},
		{id: "GENERAL_CHUNK_3", dept: "general", content: "company holiday calendar"},
	}
}

func newTestPipeline(t *testing.T, backend Backend, eng embedding.Engine, sink *audit.Sink) *Pipeline {
	t.Helper()
	return NewPipeline(
		textnorm.NewNormalizer(textnorm.DefaultVocabulary()),
		eng,
		backend,
		testRBAC(t),
		sink,
		Config{SimilarityFloor: -1, TopKDefault: 5, TopKMax: 20},
	)
}

// fakeBackend wraps a real store and injects per-department failures.
type fakeBackend struct {
	store *index.Store
	fail  map[string]bool
}

func (f *fakeBackend) SearchContext(ctx context.Context, vec []float32, dept string, k int) ([]index.SearchResult, error) {
	if f.fail[dept] {
		return nil, errors.New("shard offline")
	}
	return f.store.SearchContext(ctx, vec, dept, k)
}

func (f *fakeBackend) Lookup(chunkID string) ([]float32, string, index.Metadata, bool) {
	return f.store.Lookup(chunkID)
}

// failingEmbedder fails every call.
type failingEmbedder struct{ embedding.Engine }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend down")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestQuery_Validation(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, nil), eng, nil)
	ident := Identity{Username: "alice", Roles: []string{"finance_analyst"}}

	cases := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{RawQuery: ""}},
		{"oversized query", Request{RawQuery: strings.Repeat("x", 1001)}},
		{"top_k too large", Request{RawQuery: "revenue", TopK: 21}},
		{"top_k negative", Request{RawQuery: "revenue", TopK: -1}},
	}
	for _, tc := range cases {
		_, err := p.Query(context.Background(), ident, tc.req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want ErrInvalidRequest", tc.name, err)
		}
	}
}

func TestQuery_LengthBoundCountsRunes(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)
	ident := Identity{Username: "root", Roles: []string{"admin"}}

	// 808 runes but 1616 bytes; must pass the 1000-character bound.
	multibyte := strings.Repeat("é", 800) + " revenue"
	if _, err := p.Query(context.Background(), ident, Request{RawQuery: multibyte}); err != nil {
		t.Fatalf("808-rune query rejected: %v", err)
	}

	_, err := p.Query(context.Background(), ident, Request{RawQuery: strings.Repeat("収", 1001)})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("1001-rune query: err = %v, want ErrInvalidRequest", err)
	}
}

func TestQuery_DefaultTopK(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	res, err := p.Query(context.Background(), Identity{Username: "root", Roles: []string{"admin"}},
		Request{RawQuery: "quarterly revenue growth"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Chunks) > 5 {
		t.Errorf("default top_k should cap at 5, got %d", len(res.Chunks))
	}
}

// =============================================================================
// ACCESS SCOPING AND ENFORCEMENT
// =============================================================================

func TestQuery_NoAccessibleDepartments(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	res, err := p.Query(context.Background(), Identity{Username: "ghost", Roles: []string{"contractor"}},
		Request{RawQuery: "quarterly revenue growth"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(res.Chunks))
	}
	if res.Reason != "no accessible departments" {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Confidence != ConfidenceVeryLow {
		t.Errorf("confidence = %q, want very_low", res.Confidence)
	}
}

func TestQuery_ShardScopingExcludesOtherDepartments(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	res, err := p.Query(context.Background(), Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, c := range res.Chunks {
		if c.Metadata.Department == "marketing" {
			t.Errorf("marketing chunk %s leaked to finance_analyst", c.ChunkID)
		}
	}
	found := false
	for _, c := range res.Chunks {
		if c.ChunkID == "FINANCE_CHUNK_0" {
			found = true
		}
	}
	if !found {
		t.Error("expected FINANCE_CHUNK_0 in results")
	}
}

func TestQuery_ExplicitDenyFiltersAndAudits(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewSink(dir)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	defer sink.Close()

	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, sink)

	res, err := p.Query(context.Background(), Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue restatement", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, c := range res.Chunks {
		if c.ChunkID == "FINANCE_CHUNK_1" {
			t.Error("explicitly denied chunk returned")
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "access_decision.ndjson"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(data), "FINANCE_CHUNK_1") {
		t.Error("denial not recorded in access_decision events")
	}

	completed, err := os.ReadFile(filepath.Join(dir, "query_completed.ndjson"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(completed), "req-1") {
		t.Error("query_completed missing request id")
	}
}

func TestQuery_AdminSeesAllDepartments(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	res, err := p.Query(context.Background(), Identity{Username: "root", Roles: []string{"admin"}},
		Request{RawQuery: "quarterly brand campaign results"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.AccessibleDepartments) != 3 {
		t.Errorf("admin accessible departments = %v", res.AccessibleDepartments)
	}
	found := false
	for _, c := range res.Chunks {
		if c.ChunkID == "MARKETING_CHUNK_2" {
			found = true
		}
	}
	if !found {
		t.Error("admin should retrieve the marketing chunk")
	}
}

// =============================================================================
// RESULT PROPERTIES
// =============================================================================

func TestQuery_OrderingUniquenessAndTruncation(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	res, err := p.Query(context.Background(), Identity{Username: "root", Roles: []string{"admin"}},
		Request{RawQuery: "quarterly revenue growth", TopK: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Chunks) > 2 {
		t.Fatalf("top_k=2 returned %d chunks", len(res.Chunks))
	}
	seen := make(map[string]bool)
	for i, c := range res.Chunks {
		if seen[c.ChunkID] {
			t.Errorf("duplicate chunk %s", c.ChunkID)
		}
		seen[c.ChunkID] = true
		if i > 0 && res.Chunks[i-1].Similarity < c.Similarity {
			t.Errorf("similarity not non-increasing at %d", i)
		}
	}
}

func TestQuery_ExactMatchIsHighConfidence(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	// Identical text embeds to the identical vector, so the top chunk
	// scores ~1.0.
	res, err := p.Query(context.Background(), Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth", TopK: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(res.Chunks))
	}
	if res.Chunks[0].Similarity < 0.99 {
		t.Errorf("exact match similarity = %f", res.Chunks[0].Similarity)
	}
	if res.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %q, want high", res.Confidence)
	}
}

func TestConfidenceBand(t *testing.T) {
	cases := []struct {
		sims []float64
		want string
	}{
		{nil, ConfidenceVeryLow},
		{[]float64{0.8, 0.7}, ConfidenceHigh},
		{[]float64{0.6, 0.5}, ConfidenceMedium},
		{[]float64{0.4, 0.3}, ConfidenceLow},
		{[]float64{0.2}, ConfidenceVeryLow},
		{[]float64{0.70}, ConfidenceHigh},
		{[]float64{0.50}, ConfidenceMedium},
		{[]float64{0.30}, ConfidenceLow},
	}
	for _, tc := range cases {
		chunks := make([]ResultChunk, len(tc.sims))
		for i, s := range tc.sims {
			chunks[i].Similarity = s
		}
		if got := confidenceBand(chunks); got != tc.want {
			t.Errorf("confidenceBand(%v) = %q, want %q", tc.sims, got, tc.want)
		}
	}
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestQuery_EmbedderFailure(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), failingEmbedder{}, nil)

	_, err := p.Query(context.Background(), Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth"})
	if !errors.Is(err, ErrEmbedderUnavailable) {
		t.Errorf("err = %v, want ErrEmbedderUnavailable", err)
	}
}

func TestQuery_AllShardsFailed(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	backend := &fakeBackend{
		store: testStore(t, eng, defaultSpecs()),
		fail:  map[string]bool{"finance": true, "general": true},
	}
	p := newTestPipeline(t, backend, eng, nil)

	_, err := p.Query(context.Background(), Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth"})
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("err = %v, want ErrSearchUnavailable", err)
	}
}

func TestQuery_PartialShardFailureDegrades(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	backend := &fakeBackend{
		store: testStore(t, eng, defaultSpecs()),
		fail:  map[string]bool{"general": true},
	}
	p := newTestPipeline(t, backend, eng, nil)

	res, err := p.Query(context.Background(), Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth"})
	if err != nil {
		t.Fatalf("partial failure should degrade, got %v", err)
	}
	found := false
	for _, c := range res.Chunks {
		if c.ChunkID == "FINANCE_CHUNK_0" {
			found = true
		}
	}
	if !found {
		t.Error("surviving shard results missing")
	}
}

func TestQuery_CancelledContext(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Query(ctx, Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestQuery_DeadlineExceeded(t *testing.T) {
	eng := embedding.NewHashedEngine(testDim)
	p := newTestPipeline(t, testStore(t, eng, defaultSpecs()), eng, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := p.Query(ctx, Identity{Username: "alice", Roles: []string{"finance_analyst"}},
		Request{RawQuery: "quarterly revenue growth"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

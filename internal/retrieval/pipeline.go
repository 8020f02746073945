// Package retrieval orchestrates the query pipeline: validation,
// normalization, variant fan-out, sharded vector search scoped to the
// caller's accessible departments, per-chunk access enforcement,
// re-ranking, and confidence banding. Access control is enforced twice:
// shard scoping bounds what is searched, and the per-chunk check bounds
// what is returned.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"askdesk/internal/audit"
	"askdesk/internal/embedding"
	"askdesk/internal/index"
	"askdesk/internal/logging"
	"askdesk/internal/metrics"
	"askdesk/internal/rbac"
	"askdesk/internal/rerank"
	"askdesk/internal/textnorm"
)

// Confidence bands derived from the mean similarity of returned chunks.
const (
	ConfidenceHigh    = "high"     // mean >= 0.70
	ConfidenceMedium  = "medium"   // mean >= 0.50
	ConfidenceLow     = "low"      // mean >= 0.30
	ConfidenceVeryLow = "very_low" // everything else, including no results
)

// Sentinel errors the HTTP layer maps to status codes.
var (
	// ErrInvalidRequest marks client-side validation failures.
	ErrInvalidRequest = errors.New("invalid retrieval request")

	// ErrEmbedderUnavailable means the embedding backend failed; the
	// request cannot proceed without query vectors.
	ErrEmbedderUnavailable = errors.New("embedding engine unavailable")

	// ErrSearchUnavailable means every shard search failed. Partial
	// shard failures degrade results instead of raising this.
	ErrSearchUnavailable = errors.New("vector search unavailable")
)

// Backend is the vector store surface the pipeline needs. Satisfied by
// *index.Store.
type Backend interface {
	SearchContext(ctx context.Context, queryVec []float32, department string, k int) ([]index.SearchResult, error)
	Lookup(chunkID string) (vec []float32, content string, meta index.Metadata, ok bool)
}

// Config parameterizes the pipeline.
type Config struct {
	SimilarityFloor float64
	TopKDefault     int
	TopKMax         int
	MaxPerDocument  int
	MaxQueryLen     int
}

// Request is one retrieval request after authentication.
type Request struct {
	RawQuery  string
	TopK      int // 0 means the configured default
	RequestID string
}

// Identity is the authenticated caller the pipeline acts for.
type Identity struct {
	Username string
	Roles    []string
}

// ResultChunk is one returned chunk with its recomputed similarity.
type ResultChunk struct {
	ChunkID    string         `json:"chunk_id"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   index.Metadata `json:"metadata"`
}

// Result is the pipeline output for one query.
type Result struct {
	Query                 string        `json:"query"`
	NormalizedQuery       string        `json:"normalized_query"`
	Variants              []string      `json:"variants"`
	Chunks                []ResultChunk `json:"results"`
	Confidence            string        `json:"confidence"`
	AccessibleDepartments []string      `json:"accessible_departments"`
	Reason                string        `json:"reason,omitempty"`
}

// Pipeline executes retrieval requests. Safe for concurrent use; all
// per-request state lives on the stack.
type Pipeline struct {
	normalizer *textnorm.Normalizer
	embedder   embedding.Engine
	backend    Backend
	rbacCfg    *rbac.Config
	sink       *audit.Sink
	cfg        Config
}

// NewPipeline wires the pipeline. A nil sink discards audit events.
func NewPipeline(normalizer *textnorm.Normalizer, embedder embedding.Engine, backend Backend, rbacCfg *rbac.Config, sink *audit.Sink, cfg Config) *Pipeline {
	if cfg.TopKDefault <= 0 {
		cfg.TopKDefault = 5
	}
	if cfg.TopKMax <= 0 {
		cfg.TopKMax = 20
	}
	if cfg.MaxQueryLen <= 0 {
		cfg.MaxQueryLen = 1000
	}
	return &Pipeline{
		normalizer: normalizer,
		embedder:   embedder,
		backend:    backend,
		rbacCfg:    rbacCfg,
		sink:       sink,
		cfg:        cfg,
	}
}

// Query runs the full pipeline for one authenticated caller.
//
// Every chunk in the result has passed the per-chunk access check for
// this caller, similarities are recomputed against the normalized-query
// embedding, and ordering is non-increasing with distinct chunk ids.
func (p *Pipeline) Query(ctx context.Context, ident Identity, req Request) (*Result, error) {
	log := logging.WithRequestID(logging.CategoryRetrieval, req.RequestID)
	timer := logging.StartTimer(logging.CategoryRetrieval, "query")
	defer timer.StopWithThreshold(2 * time.Second)

	topK, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	normalized := p.normalizer.Normalize(req.RawQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: query is empty after normalization", ErrInvalidRequest)
	}
	variants := p.normalizer.GenerateVariants(normalized)

	engine := rbac.NewEngine(p.rbacCfg, ident.Roles)
	depts := engine.AccessibleDepartments()

	res := &Result{
		Query:                 req.RawQuery,
		NormalizedQuery:       normalized,
		Variants:              variants,
		Chunks:                []ResultChunk{},
		Confidence:            ConfidenceVeryLow,
		AccessibleDepartments: depts,
	}

	if len(depts) == 0 {
		log.Info("user=%s has no accessible departments", ident.Username)
		res.Reason = "no accessible departments"
		p.sink.QueryCompleted(req.RequestID, ident.Username, len(variants), 0, 0)
		return res, nil
	}

	// Embed all variants in one batch. The normalized query is always
	// variant 0, so its vector doubles as the re-ranking reference.
	vectors, err := p.embedder.EmbedBatch(ctx, variants)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	queryVec := vectors[0]

	pool, err := p.fanOut(ctx, vectors, depts, topK)
	if err != nil {
		return nil, err
	}

	allowed := p.enforce(engine, pool, ident.Username, req.RequestID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := rerank.Rerank(queryVec, allowed, p.backend, rerank.Config{
		SimilarityFloor: p.cfg.SimilarityFloor,
		MaxPerDocument:  p.cfg.MaxPerDocument,
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	for _, r := range ranked {
		res.Chunks = append(res.Chunks, ResultChunk{
			ChunkID:    r.ChunkID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	res.Confidence = confidenceBand(res.Chunks)
	if len(res.Chunks) == 0 {
		res.Reason = "no chunks above similarity threshold"
	}

	p.sink.QueryCompleted(req.RequestID, ident.Username, len(variants), len(pool), len(res.Chunks))
	metrics.QueriesTotal.WithLabelValues(res.Confidence).Inc()
	log.Info("user=%s variants=%d pool=%d returned=%d confidence=%s",
		ident.Username, len(variants), len(pool), len(res.Chunks), res.Confidence)
	return res, nil
}

// validate checks request bounds and resolves the effective top-k.
func (p *Pipeline) validate(req Request) (int, error) {
	// Character bounds, not byte bounds: multibyte queries count by rune.
	n := utf8.RuneCountInString(req.RawQuery)
	if n == 0 {
		return 0, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if n > p.cfg.MaxQueryLen {
		return 0, fmt.Errorf("%w: query exceeds %d characters", ErrInvalidRequest, p.cfg.MaxQueryLen)
	}

	topK := req.TopK
	if topK == 0 {
		topK = p.cfg.TopKDefault
	}
	if topK < 1 || topK > p.cfg.TopKMax {
		return 0, fmt.Errorf("%w: top_k must be in [1, %d]", ErrInvalidRequest, p.cfg.TopKMax)
	}
	return topK, nil
}

// fanOut searches every (variant, department) pair in parallel, one
// goroutine per department per variant, and merges the candidate pool.
// Each search asks for 2*topK so re-ranking has slack after the access
// filter and the floor. A failed shard is skipped; only a total failure
// aborts the request.
func (p *Pipeline) fanOut(ctx context.Context, vectors [][]float32, depts []string, topK int) ([]index.SearchResult, error) {
	log := logging.Get(logging.CategoryRetrieval)
	perShardK := 2 * topK

	var (
		mu       sync.Mutex
		pool     []index.SearchResult
		searches int
		failures int
	)

	for _, vec := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(depts))
		for _, dept := range depts {
			vec, dept := vec, dept
			g.Go(func() error {
				results, err := p.backend.SearchContext(gctx, vec, dept, perShardK)
				mu.Lock()
				defer mu.Unlock()
				searches++
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					failures++
					metrics.ShardSearchFailures.Inc()
					log.Warn("shard search failed dept=%s: %v", dept, err)
					return nil
				}
				pool = append(pool, results...)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if searches > 0 && failures == searches {
		return nil, fmt.Errorf("%w: all %d shard searches failed", ErrSearchUnavailable, searches)
	}
	return pool, nil
}

// enforce applies the per-chunk access check to the candidate pool and
// records an audit event for every denial. Shard scoping already bounds
// the pool, but chunk-level grants and denies can diverge from it.
func (p *Pipeline) enforce(engine *rbac.Engine, pool []index.SearchResult, username, requestID string) []index.SearchResult {
	allowed := make([]index.SearchResult, 0, len(pool))
	for _, cand := range pool {
		if engine.IsAllowed(cand.Metadata) {
			allowed = append(allowed, cand)
			continue
		}
		p.sink.AccessDecision(requestID, username, cand.ChunkID, false)
	}
	return allowed
}

// confidenceBand maps the mean similarity of returned chunks to a band.
func confidenceBand(chunks []ResultChunk) string {
	if len(chunks) == 0 {
		return ConfidenceVeryLow
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Similarity
	}
	mean := sum / float64(len(chunks))

	switch {
	case mean >= 0.70:
		return ConfidenceHigh
	case mean >= 0.50:
		return ConfidenceMedium
	case mean >= 0.30:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

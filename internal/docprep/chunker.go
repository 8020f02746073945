package docprep

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"askdesk/internal/index"
)

// Strategy selects how documents are cut into chunks.
type Strategy string

const (
	// StrategyParagraph packs whole paragraphs up to the target size and
	// falls back to token slicing for oversized paragraphs. This is what
	// the service uses.
	StrategyParagraph Strategy = "paragraph"
	// StrategyTokenStride advances a fixed window by target-overlap tokens.
	StrategyTokenStride Strategy = "token_stride"
)

// ChunkerConfig bounds chunk sizes. TargetTokens must stay within
// [300, 512]; OverlapTokens applies between consecutive chunks.
type ChunkerConfig struct {
	TargetTokens  int
	OverlapTokens int
	Strategy      Strategy
	// StableIDs switches chunk ids from <DEPT>_CHUNK_<ordinal> to a
	// content-hash scheme that survives rebuilds with unchanged sources.
	StableIDs bool
}

// DefaultChunkerConfig returns the service defaults.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		TargetTokens:  512,
		OverlapTokens: 50,
		Strategy:      StrategyParagraph,
	}
}

// Chunker cuts prepared documents into token-bounded chunks. The global
// ordinal is monotonic across one Chunker lifetime, i.e. one rebuild.
type Chunker struct {
	cfg     ChunkerConfig
	ordinal int
}

// NewChunker creates a Chunker. Out-of-range config is clamped to the
// supported bounds rather than rejected; the index build is offline and
// a loud clamp beats a dead pipeline.
func NewChunker(cfg ChunkerConfig) *Chunker {
	if cfg.TargetTokens < 300 {
		cfg.TargetTokens = 300
	}
	if cfg.TargetTokens > 512 {
		cfg.TargetTokens = 512
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.OverlapTokens >= cfg.TargetTokens {
		cfg.OverlapTokens = cfg.TargetTokens / 4
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyParagraph
	}
	return &Chunker{cfg: cfg}
}

// CountTokens is the fixed tokenization scheme: whitespace-delimited
// words. Word approximation is used consistently across ingestion and
// thresholds, which is what the similarity contracts require.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// Chunk cuts one document. Chunk ids and ordinals are assigned here;
// metadata tagging happens in a separate pass.
func (c *Chunker) Chunk(doc *Document) []index.Chunk {
	var texts []string
	switch c.cfg.Strategy {
	case StrategyTokenStride:
		texts = c.tokenStride(strings.Fields(doc.Text))
	default:
		texts = c.paragraphFirst(doc.Text)
	}

	now := time.Now().UTC()
	chunks := make([]index.Chunk, 0, len(texts))
	for i, text := range texts {
		id := c.nextID(doc.Department, text)
		chunks = append(chunks, index.Chunk{
			ChunkID:    id,
			Content:    text,
			TokenCount: CountTokens(text),
			Metadata: index.Metadata{
				ChunkID:        id,
				SourceDocument: doc.Name,
				Department:     strings.ToLower(doc.Department),
				ChunkIndex:     i,
				CreatedAt:      now,
			},
		})
	}
	return chunks
}

// paragraphFirst greedily packs paragraphs until the next would exceed
// the target, token-slicing any single paragraph that exceeds it alone.
// Consecutive chunks share the configured overlap: each new chunk is
// prefixed with the trailing overlap tokens of its predecessor.
func (c *Chunker) paragraphFirst(text string) []string {
	paragraphs := splitParagraphs(text)
	var out []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, "\n\n"))
		current = nil
		currentTokens = 0
	}

	for _, para := range paragraphs {
		n := CountTokens(para)

		if n > c.cfg.TargetTokens {
			flush()
			out = append(out, c.tokenStride(strings.Fields(para))...)
			continue
		}

		if currentTokens+n > c.cfg.TargetTokens {
			flush()
		}
		current = append(current, para)
		currentTokens += n
	}
	flush()

	return c.applyOverlap(out)
}

// tokenStride advances the window by target-overlap tokens.
func (c *Chunker) tokenStride(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	stride := c.cfg.TargetTokens - c.cfg.OverlapTokens
	var out []string
	for start := 0; start < len(words); start += stride {
		end := start + c.cfg.TargetTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

// applyOverlap prefixes each chunk after the first with the trailing
// overlap tokens of its predecessor.
func (c *Chunker) applyOverlap(chunks []string) []string {
	if c.cfg.OverlapTokens == 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		start := len(prev) - c.cfg.OverlapTokens
		if start < 0 {
			start = 0
		}
		out[i] = strings.Join(prev[start:], " ") + "\n" + chunks[i]
	}
	return out
}

// nextID assigns the chunk identifier. Ordinal ids are monotonic within
// a rebuild; stable ids hash the department and content so unchanged
// sources keep their citations across rebuilds.
func (c *Chunker) nextID(department, content string) string {
	dept := strings.ToUpper(department)
	if c.cfg.StableIDs {
		sum := sha256.Sum256([]byte(department + "\x00" + content))
		return fmt.Sprintf("%s_%s", dept, hex.EncodeToString(sum[:6]))
	}
	id := fmt.Sprintf("%s_CHUNK_%d", dept, c.ordinal)
	c.ordinal++
	return id
}

// splitParagraphs splits on blank lines, dropping empty paragraphs.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

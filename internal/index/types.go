// Package index owns the department-sharded vector store and the chunk
// data model. Shards are built offline, loaded read-only at startup, and
// safe for concurrent readers without locking once loaded.
package index

import "time"

// Chunk is a token-bounded text fragment derived from a source document.
// Immutable at steady state; replaced only by a full rebuild.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Metadata   Metadata  `json:"metadata"`
	// Embedding is persisted in the sidecar matrix, not in chunks.json.
	Embedding []float32 `json:"-"`
}

// Metadata is the sidecar record for a chunk. allowed_roles and
// explicit_deny hold canonical (lowercase) role names; an empty
// allowed_roles means the department-permission rule alone decides.
type Metadata struct {
	ChunkID        string    `json:"chunk_id"`
	SourceDocument string    `json:"source_document"`
	Department     string    `json:"department"`
	ChunkIndex     int       `json:"chunk_index"`
	AllowedRoles   []string  `json:"allowed_roles"`
	ExplicitDeny   []string  `json:"explicit_deny"`
	SecurityLevel  string    `json:"security_level"`
	CreatedAt      time.Time `json:"created_at"`
}

// SearchResult is one shard search hit.
type SearchResult struct {
	ChunkID    string
	Content    string
	Metadata   Metadata
	Similarity float64
}

// Stats summarizes the loaded index.
type Stats struct {
	TotalChunks   int            `json:"total_chunks"`
	PerDepartment map[string]int `json:"per_department_counts"`
	Dimension     int            `json:"dimension"`
}

package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"askdesk/internal/logging"
)

// Artifact layout under the index root:
//
//	<root>/CURRENT                 - name of the active generation dir
//	<root>/<gen>/manifest.json     - dimension, count, build time
//	<root>/<gen>/chunks.json       - JSON array of chunk records
//	<root>/<gen>/embeddings.f32    - row-major float32, rows == chunks.json order
//
// A rebuild writes a fresh generation dir and swaps CURRENT via rename,
// so readers only ever observe a complete generation.

const (
	pointerFile   = "CURRENT"
	manifestFile  = "manifest.json"
	chunksFile    = "chunks.json"
	embeddingFile = "embeddings.f32"
)

// Manifest describes one index generation.
type Manifest struct {
	Dimension int       `json:"dimension"`
	Chunks    int       `json:"chunks"`
	BuiltAt   time.Time `json:"built_at"`
	Embedder  string    `json:"embedder"`
}

// WriteArtifacts writes a new generation directory under root and
// atomically repoints CURRENT at it. Returns the generation name.
func WriteArtifacts(root string, chunks []Chunk, dim int, embedder string) (string, error) {
	gen := time.Now().UTC().Format("20060102T150405Z")
	dir := filepath.Join(root, gen)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("index: create generation dir: %w", err)
	}

	for i := range chunks {
		if len(chunks[i].Embedding) != dim {
			return "", fmt.Errorf("index: chunk %s has dimension %d, manifest says %d",
				chunks[i].ChunkID, len(chunks[i].Embedding), dim)
		}
	}

	manifest := Manifest{
		Dimension: dim,
		Chunks:    len(chunks),
		BuiltAt:   time.Now().UTC(),
		Embedder:  embedder,
	}
	if err := writeJSON(filepath.Join(dir, manifestFile), manifest); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, chunksFile), chunks); err != nil {
		return "", err
	}
	if err := writeEmbeddings(filepath.Join(dir, embeddingFile), chunks, dim); err != nil {
		return "", err
	}

	// Swap the pointer last: temp file + rename keeps the swap atomic on
	// POSIX filesystems.
	tmp := filepath.Join(root, pointerFile+".tmp")
	if err := os.WriteFile(tmp, []byte(gen+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("index: write pointer temp: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(root, pointerFile)); err != nil {
		return "", fmt.Errorf("index: swap pointer: %w", err)
	}

	logging.Get(logging.CategoryIndex).Info("wrote index generation %s: %d chunks, dim=%d", gen, len(chunks), dim)
	return gen, nil
}

// LoadSnapshot reads the generation CURRENT points at and builds an
// immutable snapshot. Embeddings are validated for dimension and
// approximate unit norm.
func LoadSnapshot(root string) (*Snapshot, error) {
	ptr, err := os.ReadFile(filepath.Join(root, pointerFile))
	if err != nil {
		return nil, fmt.Errorf("index: read pointer: %w", err)
	}
	gen := strings.TrimSpace(string(ptr))
	dir := filepath.Join(root, gen)

	var manifest Manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &manifest); err != nil {
		return nil, err
	}

	var chunks []Chunk
	if err := readJSON(filepath.Join(dir, chunksFile), &chunks); err != nil {
		return nil, err
	}
	if len(chunks) != manifest.Chunks {
		return nil, fmt.Errorf("index: chunks.json has %d records, manifest says %d", len(chunks), manifest.Chunks)
	}

	if err := readEmbeddings(filepath.Join(dir, embeddingFile), chunks, manifest.Dimension); err != nil {
		return nil, err
	}

	log := logging.Get(logging.CategoryIndex)
	for i := range chunks {
		var mag float64
		for _, v := range chunks[i].Embedding {
			mag += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(mag)-1.0) > 1e-3 {
			log.Warn("chunk %s embedding norm %.4f deviates from 1.0", chunks[i].ChunkID, math.Sqrt(mag))
		}
	}

	log.Info("loaded index generation %s: %d chunks, dim=%d", gen, len(chunks), manifest.Dimension)
	return NewSnapshot(chunks, manifest.Dimension), nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("index: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("index: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("index: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeEmbeddings writes the row-major little-endian float32 matrix.
func writeEmbeddings(path string, chunks []Chunk, dim int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("index: create embeddings file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 4*dim)
	for i := range chunks {
		for j, v := range chunks[i].Embedding {
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(v))
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("index: write embeddings row %d: %w", i, err)
		}
	}
	return nil
}

// readEmbeddings fills chunk embeddings from the matrix file. Row order
// matches chunks.json by contract.
func readEmbeddings(path string, chunks []Chunk, dim int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("index: read embeddings: %w", err)
	}

	want := 4 * dim * len(chunks)
	if len(data) != want {
		return fmt.Errorf("index: embeddings file is %d bytes, expected %d (%d rows x dim %d)",
			len(data), want, len(chunks), dim)
	}

	for i := range chunks {
		row := make([]float32, dim)
		off := 4 * dim * i
		for j := 0; j < dim; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4*j:]))
		}
		chunks[i].Embedding = row
	}
	return nil
}

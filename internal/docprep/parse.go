// Package docprep implements the offline document preparation pipeline:
// parse, clean, chunk with overlap, and tag with role/department metadata.
package docprep

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"askdesk/internal/logging"
)

// ErrUnsupportedFormat marks files the parser does not handle; ingestion
// walks skip them.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is a parsed source document flattened to plain text.
type Document struct {
	// Name is the human-readable file identifier used in citations.
	Name string
	// Department is derived from the directory the file lives in.
	Department string
	// Text is the flattened content. Paragraphs are separated by blank lines.
	Text string
}

// ParseFile reads a supported file (.txt, .md line-oriented; .csv
// table-oriented) and flattens it to plain text. CSV rows become
// row-delimited sentences so the chunker sees coherent paragraphs.
func ParseFile(path, department string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("docprep: read %s: %w", path, err)
	}

	doc := &Document{
		Name:       filepath.Base(path),
		Department: department,
	}

	switch ext {
	case ".txt", ".md":
		doc.Text = cleanText(string(data))
	case ".csv":
		text, err := flattenCSV(data)
		if err != nil {
			return nil, fmt.Errorf("docprep: parse csv %s: %w", path, err)
		}
		doc.Text = text
	default:
		return nil, fmt.Errorf("docprep: %w: %q for %s", ErrUnsupportedFormat, ext, path)
	}

	logging.Get(logging.CategoryDocprep).Debug("parsed %s (%s): %d bytes of text",
		doc.Name, doc.Department, len(doc.Text))
	return doc, nil
}

// cleanText normalizes line endings and trims trailing whitespace per
// line, preserving blank lines as paragraph boundaries.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// flattenCSV renders each data row as one sentence of "header: value"
// pairs. Every row ends with a period so sentence boundaries survive
// chunking.
func flattenCSV(data []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		pairs := make([]string, 0, len(row))
		for i, val := range row {
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			col := fmt.Sprintf("column %d", i+1)
			if i < len(header) {
				col = strings.TrimSpace(header[i])
			}
			pairs = append(pairs, fmt.Sprintf("%s: %s", col, val))
		}
		if len(pairs) == 0 {
			continue
		}
		b.WriteString(strings.Join(pairs, ", "))
		b.WriteString(".\n")
	}
	return strings.TrimSpace(b.String()), nil
}

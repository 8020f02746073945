package docprep

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"askdesk/internal/index"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestParseFile_Text(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "report.txt", "First paragraph.  \r\n\r\nSecond paragraph.\t\n")

	doc, err := ParseFile(path, "finance")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Name != "report.txt" || doc.Department != "finance" {
		t.Errorf("doc identity = %s/%s", doc.Department, doc.Name)
	}
	if doc.Text != "First paragraph.\n\nSecond paragraph." {
		t.Errorf("cleaned text = %q", doc.Text)
	}
}

func TestParseFile_CSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "spend.csv", "campaign,budget,channel\nLaunch,50000,social\nRenewal,,email\n")

	doc, err := ParseFile(path, "marketing")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	lines := strings.Split(doc.Text, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 row sentences, got %d: %q", len(lines), doc.Text)
	}
	if lines[0] != "campaign: Launch, budget: 50000, channel: social." {
		t.Errorf("row sentence = %q", lines[0])
	}
	// Empty cells are dropped, not rendered as "budget: ".
	if strings.Contains(lines[1], "budget") {
		t.Errorf("empty cell leaked into %q", lines[1])
	}
}

func TestParseFile_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.pdf", "%PDF-1.4")

	_, err := ParseFile(path, "finance")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseFile_Missing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "absent.txt"), "finance"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTagger(t *testing.T) {
	tagger := NewTagger(map[string][]string{
		"Finance Analyst": {"finance", "general"},
		"finance_manager": {"finance", "hr", "general"},
		"marketing_lead":  {"marketing", "general"},
	})

	chunks := []index.Chunk{
		{ChunkID: "FINANCE_CHUNK_0", Metadata: index.Metadata{Department: "finance"}},
		{ChunkID: "GENERAL_CHUNK_1", Metadata: index.Metadata{Department: "general"}},
		{ChunkID: "HR_CHUNK_2", Metadata: index.Metadata{Department: "hr"}},
	}
	tagger.Tag(chunks)

	finance := chunks[0].Metadata.AllowedRoles
	if len(finance) != 2 || finance[0] != "finance_analyst" || finance[1] != "finance_manager" {
		t.Errorf("finance allowed_roles = %v", finance)
	}

	general := chunks[1].Metadata.AllowedRoles
	if len(general) != 3 {
		t.Errorf("general chunks should be readable by every role, got %v", general)
	}

	hr := chunks[2].Metadata.AllowedRoles
	if len(hr) != 1 || hr[0] != "finance_manager" {
		t.Errorf("hr allowed_roles = %v", hr)
	}
}

package textnorm

import (
	"strings"
	"testing"
)

func TestNormalize_Basics(t *testing.T) {
	n := NewNormalizer(nil)

	cases := []struct {
		in   string
		want string
	}{
		{"Q4 revenue growth", "quarter 4 revenue growth"},
		{"profit & loss", "profit and loss"},
		{"growth of 3.5% YoY", "growth of 3.5 percent year over year"},
		{"revenue vs. expenses", "revenue versus expenses"},
		{"cash/credit", "cash or credit"},
		{"Q1-Q3 results", "quarter 1 quarter 2 quarter 3 results"},
		{"quarter 2 to quarter 4", "quarter 2 quarter 3 quarter 4"},
		{"  What   is the   HR policy?  ", "what is the human resources policy"},
		{"Acme Inc. filed FY reports", "acme inc filed fiscal year reports"},
	}

	for _, tc := range cases {
		got := n.Normalize(tc.in)
		if got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(nil)

	inputs := []string{
		"Q4 revenue growth",
		"profit & loss vs budget",
		"Q1-Q4 summary of 12.5% margins",
		"what is the HR vacation policy",
		"",
		"already normalized text",
		"quarter 3 revenue",
	}

	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalize_DecimalPointsSurvive(t *testing.T) {
	n := NewNormalizer(nil)

	got := n.Normalize("margin was 12.75 this year.")
	if !strings.Contains(got, "12.75") {
		t.Errorf("decimal point stripped: %q", got)
	}
	if strings.HasSuffix(got, ".") {
		t.Errorf("trailing period kept: %q", got)
	}
}

func TestGenerateVariants_OriginalFirstAndDistinct(t *testing.T) {
	n := NewNormalizer(nil)

	inputs := []string{
		"Q4 revenue growth",
		"what is the employee vacation policy",
		"market share versus last quarter",
		"strategy",
	}

	for _, in := range inputs {
		normalized := n.Normalize(in)
		variants := n.GenerateVariants(normalized)

		if len(variants) == 0 || len(variants) > 4 {
			t.Fatalf("GenerateVariants(%q) returned %d variants", normalized, len(variants))
		}
		if variants[0] != normalized {
			t.Errorf("first variant should be the original %q, got %q", normalized, variants[0])
		}
		seen := make(map[string]bool)
		for _, v := range variants {
			if seen[v] {
				t.Errorf("duplicate variant %q for input %q", v, in)
			}
			seen[v] = true
		}
	}
}

func TestGenerateVariants_KeyTermsPreservesQuarterDigit(t *testing.T) {
	n := NewNormalizer(nil)

	normalized := n.Normalize("what was revenue in Q4")
	variants := n.GenerateVariants(normalized)

	found := false
	for _, v := range variants {
		if strings.Contains(v, "quarter 4") && !strings.Contains(v, "what") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a key-terms variant containing 'quarter 4', got %v", variants)
	}
}

func TestGenerateVariants_SynonymGrowthGate(t *testing.T) {
	n := NewNormalizer(nil)

	// A long query with a single key term grows well under 20%; the
	// synonym variant must be suppressed.
	long := n.Normalize("please summarize everything discussed about revenue during the last several leadership meetings and offsites")
	for _, v := range n.GenerateVariants(long) {
		if strings.Contains(v, "income") {
			t.Errorf("synonym variant should be gated for %q, got %q", long, v)
		}
	}

	// A short key-term-heavy query passes the gate.
	short := n.Normalize("revenue growth")
	found := false
	for _, v := range n.GenerateVariants(short) {
		if strings.Contains(v, "income") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected synonym-expanded variant for %q", short)
	}
}

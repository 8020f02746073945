// Package textnorm implements deterministic query normalization and
// variant generation for the retrieval pipeline. Normalization is
// idempotent: normalizing an already-normalized string is a no-op.
package textnorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Vocabulary holds the configured word lists driving normalization and
// variant generation. Immutable after construction.
type Vocabulary struct {
	// Abbreviations maps whole-word abbreviations to their expansions.
	// Expansions must not themselves contain abbreviation keys, otherwise
	// normalization would not be idempotent.
	Abbreviations map[string]string

	// Stopwords removed for the stopwords-removed variant.
	Stopwords map[string]struct{}

	// KeyTerms is the closed domain vocabulary for the key-terms variant.
	KeyTerms map[string]struct{}

	// Synonyms maps a key term to its expansion terms, in emission order.
	Synonyms map[string][]string
}

// DefaultVocabulary returns the built-in enterprise vocabulary.
func DefaultVocabulary() *Vocabulary {
	stop := map[string]struct{}{}
	for _, w := range []string{"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for"} {
		stop[w] = struct{}{}
	}

	key := map[string]struct{}{}
	for _, w := range []string{
		"revenue", "profit", "earnings", "growth", "sales", "budget",
		"expense", "forecast", "quarter", "margin", "policy", "employee",
		"salary", "benefits", "vacation", "compliance", "strategy",
		"market", "share", "campaign", "launch", "architecture",
		"deployment", "finance", "marketing", "engineering",
	} {
		key[w] = struct{}{}
	}

	return &Vocabulary{
		Abbreviations: map[string]string{
			"dept": "department",
			"eng":  "engineering",
			"fin":  "finance",
			"mktg": "marketing",
			"hr":   "human resources",
			"roi":  "return on investment",
			"yoy":  "year over year",
			"fy":   "fiscal year",
			"mgmt": "management",
		},
		Stopwords: stop,
		KeyTerms:  key,
		Synonyms: map[string][]string{
			"revenue":  {"income", "sales"},
			"profit":   {"earnings", "margin"},
			"employee": {"staff", "personnel"},
			"policy":   {"guideline", "rule"},
			"budget":   {"forecast", "allocation"},
			"growth":   {"increase", "expansion"},
			"strategy": {"plan", "roadmap"},
		},
	}
}

// Normalizer applies deterministic text normalization.
type Normalizer struct {
	vocab *Vocabulary
}

// NewNormalizer creates a Normalizer. A nil vocabulary uses the default.
func NewNormalizer(vocab *Vocabulary) *Normalizer {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Normalizer{vocab: vocab}
}

var (
	reVersus       = regexp.MustCompile(`\bvs\.?(\s|$)`)
	reQRange       = regexp.MustCompile(`\bq([1-4])\s*-\s*q([1-4])\b`)
	reQuarterRange = regexp.MustCompile(`\bquarter\s+([1-4])\s+to\s+quarter\s+([1-4])\b`)
	reQDigit       = regexp.MustCompile(`^q([0-9])$`)
)

// Normalize applies the full normalization sequence:
// lowercase, symbol rewrites, quarter-range expansion, punctuation strip
// (periods inside numbers survive), whitespace collapse, whole-word
// abbreviation expansion with the q<digit> special case.
func (n *Normalizer) Normalize(query string) string {
	s := strings.ToLower(query)

	// Symbol rewrites. Space padding keeps word boundaries intact; runs of
	// whitespace collapse below.
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "%", " percent ")
	s = strings.ReplaceAll(s, "/", " or ")
	s = reVersus.ReplaceAllString(s, "versus$1")

	// Quarter ranges expand to the explicit enumeration before punctuation
	// stripping removes the hyphen.
	s = reQRange.ReplaceAllStringFunc(s, func(m string) string {
		sub := reQRange.FindStringSubmatch(m)
		return expandQuarterRange(sub[1], sub[2], "q%d")
	})
	s = reQuarterRange.ReplaceAllStringFunc(s, func(m string) string {
		sub := reQuarterRange.FindStringSubmatch(m)
		return expandQuarterRange(sub[1], sub[2], "quarter %d")
	})

	s = stripPunctuation(s)

	// Collapse whitespace and expand abbreviations token by token.
	tokens := strings.Fields(s)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if m := reQDigit.FindStringSubmatch(tok); m != nil {
			out = append(out, "quarter", m[1])
			continue
		}
		if exp, ok := n.vocab.Abbreviations[tok]; ok {
			out = append(out, strings.Fields(exp)...)
			continue
		}
		out = append(out, tok)
	}

	return strings.Join(out, " ")
}

// expandQuarterRange renders the inclusive range lo..hi using the token
// format. A reversed range renders both endpoints unchanged in order.
func expandQuarterRange(lo, hi, format string) string {
	a, _ := strconv.Atoi(lo)
	b, _ := strconv.Atoi(hi)
	if a > b {
		return fmt.Sprintf(format, a) + " " + fmt.Sprintf(format, b)
	}
	parts := make([]string, 0, b-a+1)
	for i := a; i <= b; i++ {
		parts = append(parts, fmt.Sprintf(format, i))
	}
	return strings.Join(parts, " ")
}

// stripPunctuation removes non-word characters. A period survives only
// when flanked by digits (3.5 stays, "inc." loses its period).
func stripPunctuation(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i, r := range runes {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.':
			if i > 0 && i+1 < len(runes) && isDigit(runes[i-1]) && isDigit(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteRune(' ')
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

package textnorm

import "strings"

// GenerateVariants returns 1-4 query variants for recall broadening.
// The normalized original is always first; duplicates are removed
// preserving order. Retrieval issues a search for every variant.
func (n *Normalizer) GenerateVariants(normalized string) []string {
	variants := []string{normalized}

	if v := n.removeStopwords(normalized); v != "" {
		variants = append(variants, v)
	}
	if v := n.keyTerms(normalized); v != "" {
		variants = append(variants, v)
	}
	if v := n.expandSynonyms(normalized); v != "" {
		variants = append(variants, v)
	}

	return dedupeOrdered(variants)
}

// removeStopwords drops the closed stopword set.
func (n *Normalizer) removeStopwords(s string) string {
	tokens := strings.Fields(s)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, stop := n.vocab.Stopwords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// keyTerms retains only members of the domain vocabulary. "quarter"
// followed by a digit is preserved as a pair.
func (n *Normalizer) keyTerms(s string) string {
	tokens := strings.Fields(s)
	kept := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok == "quarter" && i+1 < len(tokens) && isDigitToken(tokens[i+1]) {
			kept = append(kept, tok, tokens[i+1])
			i++
			continue
		}
		if _, ok := n.vocab.KeyTerms[tok]; ok {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// expandSynonyms appends configured synonyms for each recognized key
// term, in query order. Emitted only when the variant grows by at least
// 20% over the original, otherwise it adds noise without recall.
func (n *Normalizer) expandSynonyms(s string) string {
	tokens := strings.Fields(s)
	out := make([]string, 0, len(tokens)*2)
	seen := make(map[string]struct{}, len(tokens))

	for _, tok := range tokens {
		out = append(out, tok)
		seen[tok] = struct{}{}
	}
	for _, tok := range tokens {
		for _, syn := range n.vocab.Synonyms[tok] {
			if _, dup := seen[syn]; dup {
				continue
			}
			out = append(out, syn)
			seen[syn] = struct{}{}
		}
	}

	expanded := strings.Join(out, " ")
	if len(expanded) < len(s)+len(s)/5 {
		return ""
	}
	return expanded
}

func isDigitToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isDigit(r) {
			return false
		}
	}
	return true
}

// dedupeOrdered removes duplicates and empties preserving first-seen order.
func dedupeOrdered(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

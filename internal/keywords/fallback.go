// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package keywords

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/litfunnel/pkg/types"
)

// DefaultTerm is emitted when the abstract yields no terms at all.
const DefaultTerm = "biomedical research"

var methodologyTerms = []string{
	"randomized controlled trial",
	"systematic review",
	"meta-analysis",
	"cohort study",
	"case-control",
	"cross-sectional",
	"machine learning",
	"deep learning",
	"neural network",
	"random forest",
	"logistic regression",
	"survival analysis",
}

var interventionTerms = []string{
	"treatment",
	"therapy",
	"intervention",
	"drug",
	"medication",
	"surgery",
	"procedure",
}

var stopwords = map[string]bool{
	"study": true, "research": true, "result": true, "results": true,
	"data": true, "method": true, "methods": true,
	"with": true, "from": true, "that": true, "this": true, "these": true,
	"were": true, "have": true, "been": true, "using": true, "which": true,
	"their": true, "between": true, "during": true, "among": true, "into": true,
}

var (
	capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	wordToken         = regexp.MustCompile(`\b[a-z]{4,}\b`)
)

const maxCapitalized = 3

// termSet accumulates terms in scan order up to MaxKeywords.
type termSet struct {
	condition []string
	method    []string
	words     map[string]bool
	n         int
}

func (s *termSet) full() bool { return s.n >= types.MaxKeywords }

func (s *termSet) add(term string, method bool) {
	if s.full() || s.has(term) {
		return
	}
	if method {
		s.method = append(s.method, term)
	} else {
		s.condition = append(s.condition, term)
	}
	for _, w := range strings.Fields(term) {
		s.words[w] = true
	}
	s.n++
}

func (s *termSet) has(term string) bool {
	for _, t := range s.condition {
		if t == term {
			return true
		}
	}
	for _, t := range s.method {
		if t == term {
			return true
		}
	}
	return false
}

// ExtractRuleBased is the deterministic extractor. It scans for known
// methodology and intervention phrases, then capitalized multi-word
// phrases, then the most frequent words of four or more letters, stopping
// at MaxKeywords. Phrase-list hits are method terms; everything else is a
// condition term. The result is never empty.
func ExtractRuleBased(abstract string) types.StructuredQuery {
	lower := strings.ToLower(abstract)
	s := &termSet{words: make(map[string]bool)}

	for _, list := range [][]string{methodologyTerms, interventionTerms} {
		for _, t := range list {
			if strings.Contains(lower, t) {
				s.add(t, true)
			}
		}
	}

	for i, p := range capitalizedPhrase.FindAllString(abstract, -1) {
		if i >= maxCapitalized {
			break
		}
		s.add(strings.ToLower(p), false)
	}

	if !s.full() {
		for _, w := range frequentWords(lower) {
			if s.words[w] {
				continue
			}
			s.add(w, false)
			if s.full() {
				break
			}
		}
	}

	if s.n == 0 {
		return types.NewStructuredQuery([]string{DefaultTerm}, nil, nil)
	}
	return types.NewStructuredQuery(s.condition, s.method, nil)
}

// frequentWords returns distinct non-stopword tokens by descending count,
// ties in order of first appearance.
func frequentWords(lower string) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range wordToken.FindAllString(lower, -1) {
		if stopwords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order
}

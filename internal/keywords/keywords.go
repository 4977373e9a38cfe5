// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package keywords turns a research abstract into a StructuredQuery of
// condition, method, and population terms and renders it as a PubMed
// boolean query. The language-model path is preferred; a deterministic
// rule-based extractor takes over whenever the model reply is unusable.
package keywords

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/llm"
	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// Outcome tags which path produced a StructuredQuery.
type Outcome string

const (
	OutcomeLLM      Outcome = "llm"
	OutcomeFallback Outcome = "fallback"
)

const (
	extractTemperature = 0.1
	extractMaxTokens   = 300
	extractAttempts    = 2
)

const extractPrompt = `Extract search terms from this abstract. Output ONLY valid JSON, no thinking or explanation.

Categories:
- disease: specific condition (e.g., "sepsis", "diabetes mellitus type 2")
- method: technique used (e.g., "machine learning", "ultrasound")
- population: target group (e.g., "newborns", "ICU patients")

Abstract:
%s

Output format (JSON only, no other text):
{"disease": ["term1"], "method": ["term1"], "population": ["term1"]}`

// Extractor classifies abstract terms. A nil provider always uses the
// rule-based path.
type Extractor struct {
	provider llm.Provider
	logger   *zap.Logger
}

// New creates an Extractor.
func New(provider llm.Provider, log *zap.Logger) *Extractor {
	return &Extractor{
		provider: provider,
		logger:   logger.OrNop(log).With(zap.String("component", "keywords")),
	}
}

// Extract returns the structured query for abstract. It never fails: any
// model error, malformed reply, or empty classification yields the
// rule-based result tagged OutcomeFallback.
func (e *Extractor) Extract(ctx context.Context, abstract string) (types.StructuredQuery, Outcome) {
	if e.provider == nil {
		return ExtractRuleBased(abstract), OutcomeFallback
	}

	v, err := llm.GenerateJSON(ctx, e.provider, llm.Request{
		Prompt:      fmt.Sprintf(extractPrompt, abstract),
		Temperature: extractTemperature,
		MaxTokens:   extractMaxTokens,
	}, extractAttempts)
	if err != nil {
		e.logger.Warn("keyword extraction failed, using rule-based terms", zap.Error(err))
		return ExtractRuleBased(abstract), OutcomeFallback
	}

	q, ok := parseCategories(v)
	if !ok {
		e.logger.Warn("keyword extraction returned no usable terms, using rule-based terms")
		return ExtractRuleBased(abstract), OutcomeFallback
	}
	e.logger.Debug("extracted keywords", zap.Strings("keywords", q.Keywords))
	return q, OutcomeLLM
}

// parseCategories reads {"disease": [...], "method": [...], "population": [...]}.
// "condition" is accepted as an alias for "disease".
func parseCategories(v any) (types.StructuredQuery, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return types.StructuredQuery{}, false
	}

	found := false
	lookup := func(keys ...string) []string {
		var out []string
		for _, k := range keys {
			raw, ok := obj[k]
			if !ok {
				continue
			}
			found = true
			out = append(out, stringList(raw)...)
		}
		return out
	}

	condition := lookup("disease", "condition")
	method := lookup("method")
	population := lookup("population")
	if !found {
		return types.StructuredQuery{}, false
	}

	q := types.NewStructuredQuery(
		types.MergeTerms(types.MaxKeywords, condition),
		types.MergeTerms(types.MaxKeywords, method),
		types.MergeTerms(types.MaxKeywords, population),
	)
	if q.IsEmpty() {
		return types.StructuredQuery{}, false
	}
	q.Structured = true
	return q, true
}

// stringList returns the string entries of a JSON array, or a single
// string as a one-element list. Other values are ignored.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

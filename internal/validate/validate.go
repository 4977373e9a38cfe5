// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate asks a language model which ranked candidates are
// actually relevant to the query abstract. The model may only narrow the
// similarity ordering: whenever its answer is missing, malformed, or keeps
// too few papers, the top candidates by similarity are returned instead.
package validate

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/llm"
	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// Outcome tags which path produced the validated list.
type Outcome string

const (
	OutcomeValidated      Outcome = "validated"
	OutcomeFallbackTooFew Outcome = "fallback_too_few"
	OutcomeFallbackError  Outcome = "fallback_error"
	OutcomeEmpty          Outcome = "empty"
)

const (
	validateTemperature = 0.1
	validateMaxTokens   = 500
	queryPreviewLen     = 300
	abstractPreviewLen  = 200

	// DefaultMinRatio is the share of maxPapers the model must keep.
	DefaultMinRatio = 0.5
)

const validatePrompt = `Output ONLY a JSON array of relevant paper indices. No thinking, no explanation.

Query: %s

Papers:
%s

Relevant = similar disease OR similar method. Return indices only, e.g.: [0, 2, 5]`

// Validator gates candidates through a language model.
type Validator struct {
	provider llm.Provider
	minRatio float64
	logger   *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithMinRatio sets the fraction of maxPapers the model must keep for its
// subset to be used. Values outside (0,1] are ignored.
func WithMinRatio(r float64) Option {
	return func(v *Validator) {
		if r > 0 && r <= 1 {
			v.minRatio = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = logger.OrNop(l) }
}

// New creates a Validator. A nil provider always falls back.
func New(provider llm.Provider, opts ...Option) *Validator {
	v := &Validator{
		provider: provider,
		minRatio: DefaultMinRatio,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(v)
	}
	v.logger = v.logger.With(zap.String("component", "validate"))
	return v
}

// Validate returns at most maxPapers candidates. candidates must already be
// ordered by similarity; that order is preserved on every path.
func (v *Validator) Validate(ctx context.Context, abstract string, candidates []types.Paper, maxPapers int) ([]types.Paper, Outcome) {
	if len(candidates) == 0 {
		return []types.Paper{}, OutcomeEmpty
	}
	if maxPapers <= 0 {
		maxPapers = len(candidates)
	}
	fallback := head(candidates, maxPapers)

	if v.provider == nil {
		return fallback, OutcomeFallbackError
	}

	reply, err := llm.GenerateJSON(ctx, v.provider, llm.Request{
		Prompt:      buildPrompt(abstract, candidates),
		Temperature: validateTemperature,
		MaxTokens:   validateMaxTokens,
	}, 1)
	if err != nil {
		v.logger.Warn("relevance validation failed, keeping similarity order", zap.Error(err))
		return fallback, OutcomeFallbackError
	}

	raw, ok := indexList(reply)
	if !ok {
		v.logger.Warn("relevance validation returned an unrecognized shape, keeping similarity order",
			zap.String("type", fmt.Sprintf("%T", reply)))
		return fallback, OutcomeFallbackError
	}

	keep := make(map[int]bool, len(raw))
	for _, x := range raw {
		if i, ok := toIndex(x, len(candidates)); ok {
			keep[i] = true
		}
	}

	validated := make([]types.Paper, 0, len(keep))
	for i, p := range candidates {
		if keep[i] {
			validated = append(validated, p)
		}
	}

	threshold := int(math.Floor(float64(maxPapers) * v.minRatio))
	if len(validated) == 0 || len(validated) < threshold {
		v.logger.Info("relevance validation kept too few papers, keeping similarity order",
			zap.Int("kept", len(validated)),
			zap.Int("threshold", threshold),
		)
		return fallback, OutcomeFallbackTooFew
	}

	v.logger.Debug("relevance validation applied",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(validated)),
	)
	return head(validated, maxPapers), OutcomeValidated
}

func buildPrompt(abstract string, candidates []types.Paper) string {
	var b strings.Builder
	for i, p := range candidates {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. Title: %s\n   Abstract: %s...", i, p.Title, truncate(p.Abstract, abstractPreviewLen))
	}
	return fmt.Sprintf(validatePrompt, truncate(abstract, queryPreviewLen), b.String())
}

// indexList accepts a bare array or an object with exactly one key whose
// value is an array, e.g. {"relevant": [0, 2]}.
func indexList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		if len(t) != 1 {
			return nil, false
		}
		for _, val := range t {
			list, ok := val.([]any)
			return list, ok
		}
	}
	return nil, false
}

// toIndex accepts integral JSON numbers in [0,n).
func toIndex(x any, n int) (int, bool) {
	f, ok := x.(float64)
	if !ok || f != math.Trunc(f) || f < 0 || f >= float64(n) {
		return 0, false
	}
	return int(f), true
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func head(papers []types.Paper, n int) []types.Paper {
	if n > len(papers) {
		n = len(papers)
	}
	out := make([]types.Paper, n)
	copy(out, papers)
	return out
}

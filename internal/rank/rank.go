// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank orders papers by embedding similarity to a query text.
package rank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/embedding"
	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// ErrEmbedding wraps every failure of the embedding step. Ranking cannot
// degrade, so callers treat it as fatal for the run.
var ErrEmbedding = errors.New("rank: embedding failed")

// Field selects which paper text is compared against the query.
type Field string

const (
	FieldTitle    Field = "title"
	FieldAbstract Field = "abstract"
)

// Ranker scores papers by cosine similarity between the query embedding
// and the embedding of one paper field.
type Ranker struct {
	embedder embedding.Embedder
	logger   *zap.Logger
}

// New creates a Ranker.
func New(embedder embedding.Embedder, log *zap.Logger) *Ranker {
	return &Ranker{
		embedder: embedder,
		logger:   logger.OrNop(log).With(zap.String("component", "rank")),
	}
}

// Rank embeds query and the selected field of every paper in one batched
// call, scores each paper, and returns the topK highest scoring papers in
// descending order. Ties keep input order. topK <= 0 or larger than the
// input keeps all papers. Each returned paper is a copy carrying its new
// score; the input slice is not modified.
func (r *Ranker) Rank(ctx context.Context, query string, papers []types.Paper, field Field, topK int) ([]types.Paper, error) {
	if len(papers) == 0 {
		return []types.Paper{}, nil
	}

	texts := make([]string, 0, len(papers)+1)
	texts = append(texts, query)
	for _, p := range papers {
		texts = append(texts, fieldText(p, field))
	}

	start := time.Now()
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		r.logger.Error("embedding failed", zap.String("field", string(field)), zap.Int("texts", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vecs), len(texts))
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbedding, i, len(v), dim)
		}
	}

	q := Normalize(vecs[0])
	scored := make([]types.Paper, len(papers))
	for i, p := range papers {
		scored[i] = p.WithSimilarity(Similarity(q, Normalize(vecs[i+1])))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if topK <= 0 || topK > len(scored) {
		topK = len(scored)
	}
	r.logger.Debug("ranked papers",
		zap.String("field", string(field)),
		zap.Int("input", len(papers)),
		zap.Int("kept", topK),
		zap.Duration("elapsed", time.Since(start)),
	)
	return scored[:topK], nil
}

func fieldText(p types.Paper, field Field) string {
	if field == FieldAbstract {
		return p.Abstract
	}
	return p.Title
}

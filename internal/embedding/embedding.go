// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embedding turns text into dense vectors for similarity ranking.
// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint and
// CachedEmbedder memoizes vectors in a badger store.
package embedding

import (
	"context"
	"errors"
)

// ErrProvider wraps failures reported by the embeddings endpoint.
var ErrProvider = errors.New("embedding provider error")

// Embedder maps texts to vectors. The returned slice has one vector per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embeddingtest provides embedders for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// Func adapts a function to embedding.Embedder.
type Func func(ctx context.Context, texts []string) ([][]float32, error)

// Embed implements embedding.Embedder.
func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// Hash is a deterministic bag-of-words embedder. Each lowercase word adds
// weight to one of Dim buckets chosen by FNV hash, so texts sharing words
// have positive cosine similarity. It counts calls and texts.
type Hash struct {
	Dim int

	mu    sync.Mutex
	calls int
	texts int
}

// Embed implements embedding.Embedder.
func (h *Hash) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls++
	h.texts += len(texts)
	h.mu.Unlock()

	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			f := fnv.New32a()
			f.Write([]byte(strings.Trim(w, ".,;:()\"'")))
			vec[f.Sum32()%uint32(dim)]++
		}
		out[i] = vec
	}
	return out, nil
}

// Calls returns the number of Embed calls.
func (h *Hash) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Texts returns the total number of texts embedded.
func (h *Hash) Texts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.texts
}

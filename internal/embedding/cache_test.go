// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litfunnel/internal/embedding/embeddingtest"
)

func openTestCache(t *testing.T, dir string) *Cache {
	t.Helper()
	c, err := OpenCache(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	inner := &embeddingtest.Hash{Dim: 16}
	ce := NewCachedEmbedder(inner, openTestCache(t, ""), "m", nil)
	ctx := context.Background()

	first, err := ce.Embed(ctx, []string{"sepsis", "lactate clearance"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, 2, inner.Texts())

	second, err := ce.Embed(ctx, []string{"lactate clearance", "new text", "sepsis"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
	assert.Equal(t, 3, inner.Texts(), "only the miss reaches the inner embedder")

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Len(t, second[1], 16)
}

func TestCachedEmbedder_ModelScopesKeys(t *testing.T) {
	cache := openTestCache(t, "")
	inner := &embeddingtest.Hash{Dim: 8}
	ctx := context.Background()

	_, err := NewCachedEmbedder(inner, cache, "model-a", nil).Embed(ctx, []string{"x"})
	require.NoError(t, err)
	_, err = NewCachedEmbedder(inner, cache, "model-b", nil).Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
}

func TestCachedEmbedder_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	inner := &embeddingtest.Hash{Dim: 8}

	c1, err := OpenCache(dir, nil)
	require.NoError(t, err)
	want, err := NewCachedEmbedder(inner, c1, "m", nil).Embed(ctx, []string{"persist me"})
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2 := openTestCache(t, dir)
	got, err := NewCachedEmbedder(inner, c2, "m", nil).Embed(ctx, []string{"persist me"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, inner.Calls())
}

func TestCachedEmbedder_InnerError(t *testing.T) {
	boom := errors.New("rate limited")
	inner := embeddingtest.Func(func(context.Context, []string) ([][]float32, error) {
		return nil, boom
	})
	_, err := NewCachedEmbedder(inner, openTestCache(t, ""), "m", nil).Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)
}

func TestVectorBytesRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25}
	got, err := bytesToVector(vectorToBytes(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = bytesToVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

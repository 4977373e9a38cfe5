// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/internal/metrics"
)

const cacheKeyPrefix = "emb:"

// Cache is a badger-backed vector store keyed by model and text.
type Cache struct {
	db *badger.DB
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.s.Errorf(msg, items...) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.s.Warnf(msg, items...) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.s.Debugf(msg, items...) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.s.Debugf(msg, items...) }

// OpenCache opens the cache at dir, creating the directory if needed. An
// empty dir opens an in-memory cache.
func OpenCache(dir string, log *zap.Logger) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{s: logger.OrNop(log).Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// get returns the stored vector, or ok=false when the key is absent.
func (c *Cache) get(key string) (vec []float32, ok bool, err error) {
	err = c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := bytesToVector(val)
			if err != nil {
				return err
			}
			vec, ok = v, true
			return nil
		})
	})
	return vec, ok, err
}

func (c *Cache) setMany(entries map[string][]float32) error {
	return c.db.Update(func(tx *badger.Txn) error {
		for k, v := range entries {
			if err := tx.Set([]byte(k), vectorToBytes(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CachedEmbedder serves vectors from a Cache and embeds only the misses.
type CachedEmbedder struct {
	inner  Embedder
	cache  *Cache
	model  string
	logger *zap.Logger
}

// NewCachedEmbedder wraps inner. model is part of every cache key so
// vectors from different models never collide.
func NewCachedEmbedder(inner Embedder, cache *Cache, model string, log *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		model:  model,
		logger: logger.OrNop(log).With(zap.String("component", "embedding-cache")),
	}
}

// Embed implements Embedder. Cache read and write failures are logged and
// treated as misses.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		keys[i] = c.cacheKey(t)
		vec, ok, err := c.cache.get(keys[i])
		if err != nil {
			c.logger.Warn("reading cached embedding", zap.Error(err))
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	metrics.EmbeddingCacheTotal.WithLabelValues("hit").Add(float64(len(texts) - len(missIdx)))
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Add(float64(len(missIdx)))

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts: %w", len(vecs), len(missTexts), ErrProvider)
	}

	fresh := make(map[string][]float32, len(vecs))
	for j, i := range missIdx {
		out[i] = vecs[j]
		fresh[keys[i]] = vecs[j]
	}
	if err := c.cache.setMany(fresh); err != nil {
		c.logger.Warn("writing cached embeddings", zap.Error(err))
	}
	return out, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(h[:])
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached embedding: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

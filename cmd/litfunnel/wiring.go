// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/embedding"
	"github.com/pdiddy/litfunnel/internal/funnel"
	"github.com/pdiddy/litfunnel/internal/history"
	"github.com/pdiddy/litfunnel/internal/keywords"
	"github.com/pdiddy/litfunnel/internal/llm"
	"github.com/pdiddy/litfunnel/internal/rank"
	"github.com/pdiddy/litfunnel/internal/search"
	"github.com/pdiddy/litfunnel/internal/validate"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// app holds the long-lived components behind one command invocation.
type app struct {
	funnel  *funnel.Funnel
	history *history.Store
	cache   *embedding.Cache
}

// buildApp wires the funnel from cfg. A missing language model leaves the
// extractor on its rule-based path and the validator on its fallback.
func buildApp(c types.Config, log *zap.Logger) (*app, error) {
	backends, err := search.NewBackends(c.Search)
	if err != nil {
		return nil, err
	}

	var provider llm.Provider
	chat, err := llm.NewProvider(c.LLM, log)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		log.Warn("language model not configured, using rule-based extraction", zap.Error(err))
	case err != nil:
		return nil, err
	default:
		provider = chat
	}

	if c.Embedding.APIKey == "" {
		log.Warn("embedding api key is empty", zap.String("base_url", c.Embedding.BaseURL))
	}

	a := &app{}
	var embedder embedding.Embedder = embedding.NewOpenAIEmbedder(c.Embedding, log)
	if c.Embedding.CacheDir != "" {
		cache, err := embedding.OpenCache(c.Embedding.CacheDir, log)
		if err != nil {
			return nil, err
		}
		a.cache = cache
		embedder = embedding.NewCachedEmbedder(embedder, cache, c.Embedding.Model, log)
	}

	opts := []funnel.Option{funnel.WithLogger(log)}
	if c.History.Enabled {
		store, err := history.Open(c.History.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.history = store
		opts = append(opts, funnel.WithRecorder(store))
	}

	deps := funnel.Deps{
		Extractor: keywords.New(provider, log),
		Backends:  backends,
		Ranker:    rank.New(embedder, log),
		Validator: validate.New(provider,
			validate.WithMinRatio(c.Funnel.MinValidatedRatio),
			validate.WithLogger(log),
		),
	}
	f, err := funnel.New(deps, c.Funnel, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.funnel = f
	return a, nil
}

// Close releases the pool and closes the stores.
func (a *app) Close() {
	if a.funnel != nil {
		a.funnel.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

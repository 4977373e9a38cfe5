// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/internal/metrics"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// Pool runs backend searches on a bounded goroutine pool.
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger
}

// NewPool creates a pool running at most size searches at once.
func NewPool(size int, log *zap.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("creating search pool: %w", err)
	}
	return &Pool{
		pool:   p,
		logger: logger.OrNop(log).With(zap.String("component", "search")),
	}, nil
}

// Cap returns the maximum number of concurrent searches.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops the pool's workers.
func (p *Pool) Release() {
	p.pool.Release()
}

// FanOut searches every backend concurrently and waits for all of them.
// Papers are concatenated in backend order regardless of completion order.
// Errors and panics are returned as SourceFailures, also in backend order;
// a failing backend contributes no papers.
func (p *Pool) FanOut(ctx context.Context, backends []Backend, q types.StructuredQuery, params Params) ([]types.Paper, []SourceFailure) {
	results := make([][]types.Paper, len(backends))
	errs := make([]error, len(backends))

	var wg sync.WaitGroup
	for i, b := range backends {
		i, b := i, b
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i], errs[i] = p.searchOne(ctx, b, q, params)
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submitting search: %w", err)
		}
	}
	wg.Wait()

	var papers []types.Paper
	var failures []SourceFailure
	for i, b := range backends {
		if errs[i] != nil {
			failures = append(failures, SourceFailure{Source: b.Name(), Err: errs[i]})
			continue
		}
		papers = append(papers, results[i]...)
	}
	return papers, failures
}

func (p *Pool) searchOne(ctx context.Context, b Backend, q types.StructuredQuery, params Params) (papers []types.Paper, err error) {
	name := string(b.Name())
	log := p.logger.With(zap.String("source", name))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			papers, err = nil, fmt.Errorf("%w: %v", ErrBackendPanic, r)
		}
		if err != nil {
			metrics.SourceRequestsTotal.WithLabelValues(name, "error").Inc()
			log.Warn("source search failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		metrics.SourceRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.SourcePapersTotal.WithLabelValues(name).Add(float64(len(papers)))
		log.Info("source search done", zap.Int("papers", len(papers)), zap.Duration("duration", time.Since(start)))
	}()

	return b.Search(ctx, q, params)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package funnel

import (
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// ProgressSink receives progress events. It is called synchronously from
// the goroutine running the funnel.
type ProgressSink func(types.ProgressEvent)

// progress forwards events to a sink, keeping percentages non-decreasing
// and containing sink panics.
type progress struct {
	sink   ProgressSink
	last   int
	logger *zap.Logger
}

func newProgress(sink ProgressSink, log *zap.Logger) *progress {
	return &progress{sink: sink, logger: logger.OrNop(log)}
}

func (p *progress) emit(msg string, percent int) {
	if percent < p.last {
		percent = p.last
	}
	if percent > 100 {
		percent = 100
	}
	p.last = percent
	p.logger.Debug("progress", zap.String("message", msg), zap.Int("percent", percent))

	if p.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("progress sink panicked", zap.Any("panic", r))
		}
	}()
	p.sink(types.ProgressEvent{Message: msg, Percent: percent})
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package funnel runs the retrieval pipeline: keyword extraction, parallel
// source search, deduplication, abstract filtering, title and abstract
// similarity passes, and relevance validation. Each stage only narrows the
// candidate set produced by the one before it.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/keywords"
	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/internal/metrics"
	"github.com/pdiddy/litfunnel/internal/rank"
	"github.com/pdiddy/litfunnel/internal/search"
	"github.com/pdiddy/litfunnel/internal/validate"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// Stage names used in metrics and logs.
const (
	StageExtract  = "extract"
	StageSearch   = "search"
	StageDedup    = "dedup"
	StageFilter   = "filter"
	StageTitle    = "rank_title"
	StageAbstract = "rank_abstract"
	StageValidate = "validate"
)

// DefaultConcurrentRuns is how many runs can search all backends at once
// before later runs wait for a pool worker.
const DefaultConcurrentRuns = 4

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("funnel: missing dependency")

// TermExtractor turns an abstract into search terms.
type TermExtractor interface {
	Extract(ctx context.Context, abstract string) (types.StructuredQuery, keywords.Outcome)
}

// Ranker orders papers by similarity to a query text.
type Ranker interface {
	Rank(ctx context.Context, query string, papers []types.Paper, field rank.Field, topK int) ([]types.Paper, error)
}

// Validator narrows the final candidates.
type Validator interface {
	Validate(ctx context.Context, abstract string, candidates []types.Paper, maxPapers int) ([]types.Paper, validate.Outcome)
}

// Recorder persists finished runs.
type Recorder interface {
	Save(ctx context.Context, abstract string, result types.RankingResult) (int64, error)
}

// Deps are the collaborators a Funnel sequences.
type Deps struct {
	Extractor TermExtractor
	Backends  []search.Backend
	Ranker    Ranker
	Validator Validator
}

// RunOptions are per-run parameters. Zero values take the configured
// defaults.
type RunOptions struct {
	// MaxPapers is the number of papers returned.
	MaxPapers int

	// TitleSearchLimit caps the results requested from each source.
	TitleSearchLimit int

	// Sources restricts the run to these backends. Empty means all.
	Sources []types.SourceID

	// Progress receives stage events. Nil suppresses them.
	Progress ProgressSink
}

// Funnel runs searches. It is safe for concurrent use. The search pool
// holds one worker per backend per concurrent run; runs beyond that wait
// for a free worker at the search stage.
type Funnel struct {
	deps           Deps
	cfg            types.FunnelConfig
	pool           *search.Pool
	recorder       Recorder
	now            func() time.Time
	logger         *zap.Logger
	concurrentRuns int
}

// Option configures a Funnel.
type Option func(*Funnel)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Funnel) { f.logger = logger.OrNop(l) }
}

// WithRecorder saves every successful run.
func WithRecorder(r Recorder) Option {
	return func(f *Funnel) { f.recorder = r }
}

// WithClock sets the time source used for elapsed time and the default
// upper year bound.
func WithClock(now func() time.Time) Option {
	return func(f *Funnel) { f.now = now }
}

// WithConcurrentRuns sizes the search pool for n simultaneous runs.
// Values below 1 are ignored.
func WithConcurrentRuns(n int) Option {
	return func(f *Funnel) {
		if n >= 1 {
			f.concurrentRuns = n
		}
	}
}

// New creates a Funnel. Zero fields of cfg take DefaultFunnelConfig values,
// except CandidateBuffer where zero is honoured and a negative value means
// the default.
// Call Close to release the search pool.
func New(deps Deps, cfg types.FunnelConfig, opts ...Option) (*Funnel, error) {
	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrMissingDependency)
	case deps.Ranker == nil:
		return nil, fmt.Errorf("%w: ranker", ErrMissingDependency)
	case deps.Validator == nil:
		return nil, fmt.Errorf("%w: validator", ErrMissingDependency)
	case len(deps.Backends) == 0:
		return nil, fmt.Errorf("%w: no search backends", ErrMissingDependency)
	}

	f := &Funnel{
		deps:   deps,
		cfg:    withDefaults(cfg),
		now:    time.Now,
		logger: zap.NewNop(),

		concurrentRuns: DefaultConcurrentRuns,
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = f.logger.With(zap.String("component", "funnel"))

	pool, err := search.NewPool(len(deps.Backends)*f.concurrentRuns, f.logger)
	if err != nil {
		return nil, err
	}
	f.pool = pool
	return f, nil
}

// Close releases the search pool.
func (f *Funnel) Close() {
	f.pool.Release()
}

func withDefaults(cfg types.FunnelConfig) types.FunnelConfig {
	def := types.DefaultFunnelConfig()
	if cfg.MaxPapers <= 0 {
		cfg.MaxPapers = def.MaxPapers
	}
	if cfg.TitleSearchLimit <= 0 {
		cfg.TitleSearchLimit = def.TitleSearchLimit
	}
	if cfg.TitleRankLimit <= 0 {
		cfg.TitleRankLimit = def.TitleRankLimit
	}
	if cfg.CandidateBuffer < 0 {
		cfg.CandidateBuffer = def.CandidateBuffer
	}
	if cfg.MinValidatedRatio <= 0 {
		cfg.MinValidatedRatio = def.MinValidatedRatio
	}
	return cfg
}

// Run executes the funnel for abstract. It returns an error only for
// unknown sources or a failed similarity pass; every other stage degrades
// to a fallback. Zero unique papers yields an empty result, not an error.
func (f *Funnel) Run(ctx context.Context, abstract string, opts RunOptions) (types.RankingResult, error) {
	start := f.now()
	log := logger.FromContext(ctx, f.logger)

	if opts.MaxPapers <= 0 {
		opts.MaxPapers = f.cfg.MaxPapers
	}
	if opts.TitleSearchLimit <= 0 {
		opts.TitleSearchLimit = f.cfg.TitleSearchLimit
	}
	backends, err := search.Select(f.deps.Backends, opts.Sources)
	if err != nil {
		metrics.FunnelRunsTotal.WithLabelValues("error").Inc()
		return types.RankingResult{}, err
	}
	prog := newProgress(opts.Progress, log)

	// Extract.
	prog.emit("Extracting keywords...", 10)
	stageStart := time.Now()
	q, kwOutcome := f.deps.Extractor.Extract(ctx, abstract)
	observe(StageExtract, stageStart, string(kwOutcome))
	log.Info("keywords extracted", zap.Strings("keywords", q.Keywords), zap.String("outcome", string(kwOutcome)))
	prog.emit("Keywords: "+strings.Join(q.Keywords, ", "), 15)

	// Search.
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name().DisplayName()
	}
	prog.emit("Searching "+strings.Join(names, ", ")+"...", 20)
	stageStart = time.Now()
	params := search.Params{
		YearMin: f.cfg.YearMin,
		YearMax: f.cfg.EffectiveYearMax(f.now()),
		Limit:   opts.TitleSearchLimit,
	}
	papers, failures := f.pool.FanOut(ctx, backends, q, params)
	outcome := "ok"
	if len(failures) > 0 {
		outcome = "partial"
		if len(failures) == len(backends) {
			outcome = "failed"
		}
	}
	observe(StageSearch, stageStart, outcome)
	sourceErrors := make([]string, 0, len(failures))
	for _, sf := range failures {
		sourceErrors = append(sourceErrors, sf.Error())
	}

	// Dedup.
	stageStart = time.Now()
	unique, removed := search.Deduplicate(papers)
	observe(StageDedup, stageStart, "")
	log.Info("candidates collected",
		zap.Int("raw", len(papers)),
		zap.Int("duplicates", removed),
		zap.Int("unique", len(unique)),
		zap.Int("failed_sources", len(failures)),
	)
	prog.emit(fmt.Sprintf("Found %d unique papers", len(unique)), 35)

	if len(unique) == 0 {
		result := types.RankingResult{
			Papers:       []types.Paper{},
			Elapsed:      f.now().Sub(start),
			Query:        q,
			SourceErrors: sourceErrors,
		}
		metrics.FunnelRunsTotal.WithLabelValues("empty").Inc()
		log.Info("funnel finished with no papers", zap.Duration("elapsed", result.Elapsed))
		f.record(ctx, log, abstract, result)
		return result, nil
	}

	// Filter.
	stageStart = time.Now()
	withAbstract := search.FilterAbstracts(unique)
	observe(StageFilter, stageStart, "")
	prog.emit(fmt.Sprintf("Filtered to %d papers with abstracts", len(withAbstract)), 45)

	// Title pass.
	prog.emit("Ranking by title similarity...", 50)
	stageStart = time.Now()
	byTitle, err := f.deps.Ranker.Rank(ctx, abstract, withAbstract, rank.FieldTitle, min(f.cfg.TitleRankLimit, len(withAbstract)))
	if err != nil {
		return f.fail(log, StageTitle, stageStart, err)
	}
	observe(StageTitle, stageStart, "ok")

	// Abstract pass.
	prog.emit("Ranking by abstract similarity...", 70)
	stageStart = time.Now()
	candidateCount := min(opts.MaxPapers+f.cfg.CandidateBuffer, len(byTitle))
	candidates, err := f.deps.Ranker.Rank(ctx, abstract, byTitle, rank.FieldAbstract, candidateCount)
	if err != nil {
		return f.fail(log, StageAbstract, stageStart, err)
	}
	observe(StageAbstract, stageStart, "ok")

	// Validate.
	prog.emit("Validating relevance with LLM...", 85)
	stageStart = time.Now()
	final, vOutcome := f.deps.Validator.Validate(ctx, abstract, candidates, opts.MaxPapers)
	observe(StageValidate, stageStart, string(vOutcome))

	result := types.RankingResult{
		Papers:        final,
		TotalFound:    len(unique),
		TotalRanked:   len(final),
		AvgSimilarity: meanSimilarity(final),
		Query:         q,
		Stages: types.StageCounts{
			Found:          len(unique),
			WithAbstract:   len(withAbstract),
			TitleRanked:    len(byTitle),
			AbstractRanked: len(candidates),
			Final:          len(final),
		},
		SourceErrors: sourceErrors,
	}
	result.Elapsed = f.now().Sub(start)

	prog.emit(fmt.Sprintf("Completed! %d papers ranked (avg similarity: %.2f)", result.TotalRanked, result.AvgSimilarity), 100)
	metrics.FunnelRunsTotal.WithLabelValues("ok").Inc()
	log.Info("funnel finished",
		zap.Int("found", result.TotalFound),
		zap.Int("ranked", result.TotalRanked),
		zap.Float64("avg_similarity", result.AvgSimilarity),
		zap.String("validation", string(vOutcome)),
		zap.Duration("elapsed", result.Elapsed),
	)
	f.record(ctx, log, abstract, result)
	return result, nil
}

func (f *Funnel) fail(log *zap.Logger, stage string, stageStart time.Time, err error) (types.RankingResult, error) {
	observe(stage, stageStart, "error")
	metrics.FunnelRunsTotal.WithLabelValues("error").Inc()
	log.Error("funnel failed", zap.String("stage", stage), zap.Error(err))
	return types.RankingResult{}, fmt.Errorf("%s: %w", stage, err)
}

func (f *Funnel) record(ctx context.Context, log *zap.Logger, abstract string, result types.RankingResult) {
	if f.recorder == nil {
		return
	}
	id, err := f.recorder.Save(ctx, abstract, result)
	if err != nil {
		log.Warn("saving run history failed", zap.Error(err))
		return
	}
	log.Debug("run saved", zap.Int64("run_id", id))
}

// observe records a stage duration and, when outcome is set, its outcome.
func observe(stage string, start time.Time, outcome string) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if outcome != "" {
		metrics.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	}
}

func meanSimilarity(papers []types.Paper) float64 {
	if len(papers) == 0 {
		return 0
	}
	var sum float64
	for _, p := range papers {
		sum += p.Similarity
	}
	return sum / float64(len(papers))
}

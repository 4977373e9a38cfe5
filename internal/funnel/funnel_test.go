// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package funnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litfunnel/internal/embedding/embeddingtest"
	"github.com/pdiddy/litfunnel/internal/keywords"
	"github.com/pdiddy/litfunnel/internal/llm"
	"github.com/pdiddy/litfunnel/internal/rank"
	"github.com/pdiddy/litfunnel/internal/search"
	"github.com/pdiddy/litfunnel/internal/validate"
	"github.com/pdiddy/litfunnel/pkg/types"
)

const sepsisAbstract = "machine learning for sepsis prediction in ICU patients"

// --- fakes ---

type stubBackend struct {
	name   types.SourceID
	papers []types.Paper
	err    error

	mu     sync.Mutex
	params search.Params
	query  types.StructuredQuery
	calls  int
}

func (b *stubBackend) Name() types.SourceID { return b.name }

func (b *stubBackend) Search(_ context.Context, q types.StructuredQuery, p search.Params) ([]types.Paper, error) {
	b.mu.Lock()
	b.params, b.query = p, q
	b.calls++
	b.mu.Unlock()
	return b.papers, b.err
}

// allIndices is a validator reply keeping every candidate.
func allIndices() llm.ProviderFunc {
	return func(context.Context, llm.Request) (string, error) {
		return "[0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14]", nil
	}
}

// recordingValidator captures the candidates it is given.
type recordingValidator struct {
	inner      Validator
	candidates []types.Paper
}

func (v *recordingValidator) Validate(ctx context.Context, abstract string, c []types.Paper, maxPapers int) ([]types.Paper, validate.Outcome) {
	v.candidates = append([]types.Paper(nil), c...)
	return v.inner.Validate(ctx, abstract, c, maxPapers)
}

type memRecorder struct {
	saved []types.RankingResult
	err   error
}

func (r *memRecorder) Save(_ context.Context, _ string, res types.RankingResult) (int64, error) {
	r.saved = append(r.saved, res)
	return int64(len(r.saved)), r.err
}

// tickingClock advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func pap(src types.SourceID, id, title, abstract string) types.Paper {
	return types.Paper{ID: id, Source: src, Title: title, Abstract: abstract, Year: 2023}
}

func sepsisBackends() []search.Backend {
	return []search.Backend{
		&stubBackend{name: types.SourcePubMed, papers: []types.Paper{
			pap(types.SourcePubMed, "1", "Machine Learning for Sepsis Prediction", "machine learning predicts sepsis in ICU patients"),
			pap(types.SourcePubMed, "2", "Sepsis biomarkers in adults", "lactate and procalcitonin in sepsis"),
			pap(types.SourcePubMed, "3", "Deep learning in the ICU", "neural networks for ICU patients"),
		}},
		&stubBackend{name: types.SourceOpenAlex, papers: []types.Paper{
			pap(types.SourceOpenAlex, "W1", "machine learning for sepsis prediction", "duplicate record"),
			pap(types.SourceOpenAlex, "W2", "Early warning scores", "sepsis prediction with scores"),
			pap(types.SourceOpenAlex, "W3", "Knee arthroplasty outcomes", "orthopedic surgery results"),
		}},
	}
}

type fixture struct {
	funnel    *Funnel
	embedder  *embeddingtest.Hash
	validator *recordingValidator
	recorder  *memRecorder
}

func newFixture(t *testing.T, backends []search.Backend, provider llm.Provider, opts ...Option) *fixture {
	t.Helper()
	fx := &fixture{
		embedder:  &embeddingtest.Hash{Dim: 128},
		validator: &recordingValidator{inner: validate.New(provider)},
		recorder:  &memRecorder{},
	}
	opts = append([]Option{WithClock(tickingClock()), WithRecorder(fx.recorder)}, opts...)
	f, err := New(Deps{
		Extractor: keywords.New(nil, nil),
		Backends:  backends,
		Ranker:    rank.New(fx.embedder, nil),
		Validator: fx.validator,
	}, types.DefaultFunnelConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	fx.funnel = f
	return fx
}

func paperIDs(papers []types.Paper) []string {
	out := make([]string, len(papers))
	for i, p := range papers {
		out[i] = p.ID
	}
	return out
}

// --- tests ---

func TestRun_SepsisScenario(t *testing.T) {
	fx := newFixture(t, sepsisBackends(), allIndices())

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{MaxPapers: 5, TitleSearchLimit: 10})
	require.NoError(t, err)

	assert.Equal(t, 5, res.TotalFound)
	assert.LessOrEqual(t, res.TotalRanked, 5)
	assert.Equal(t, len(res.Papers), res.TotalRanked)
	assert.NotContains(t, paperIDs(res.Papers), "W1", "case-different duplicate must be dropped")
	assert.Empty(t, res.SourceErrors)

	var sum float64
	for _, p := range res.Papers {
		assert.GreaterOrEqual(t, p.Similarity, 0.0)
		assert.LessOrEqual(t, p.Similarity, 1.0)
		sum += p.Similarity
	}
	require.NotEmpty(t, res.Papers)
	assert.InDelta(t, sum/float64(len(res.Papers)), res.AvgSimilarity, 1e-9)
	assert.Equal(t, "1", res.Papers[0].ID, "closest abstract ranks first")

	// Similarity comes from the abstract pass.
	byID := make(map[string]types.Paper)
	for _, c := range fx.validator.candidates {
		byID[c.ID] = c
	}
	for _, p := range res.Papers {
		assert.Equal(t, byID[p.ID].Similarity, p.Similarity)
	}

	assert.Equal(t, types.StageCounts{Found: 5, WithAbstract: 5, TitleRanked: 5, AbstractRanked: 5, Final: res.TotalRanked}, res.Stages)
	assert.Equal(t, 2, fx.embedder.Calls(), "one batched call per similarity pass")
	assert.Equal(t, 2*time.Second, res.Elapsed)
	require.Len(t, fx.recorder.saved, 1)
	assert.Equal(t, res.TotalFound, fx.recorder.saved[0].TotalFound)
}

func TestRun_SearchParams(t *testing.T) {
	backends := sepsisBackends()
	fx := newFixture(t, backends, allIndices())

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{TitleSearchLimit: 42})
	require.NoError(t, err)

	b := backends[0].(*stubBackend)
	assert.Equal(t, search.Params{YearMin: 2020, YearMax: 2026, Limit: 42}, b.params)
	assert.Equal(t, res.Query, b.query)
	assert.NotEmpty(t, res.Query.Keywords)
}

func TestRun_ZeroResults(t *testing.T) {
	backends := []search.Backend{
		&stubBackend{name: types.SourcePubMed},
		&stubBackend{name: types.SourceArxiv},
	}
	fx := newFixture(t, backends, allIndices())

	var events []types.ProgressEvent
	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{
		Progress: func(e types.ProgressEvent) { events = append(events, e) },
	})
	require.NoError(t, err)

	assert.Empty(t, res.Papers)
	assert.NotNil(t, res.Papers)
	assert.Zero(t, res.TotalFound)
	assert.Zero(t, res.TotalRanked)
	assert.Zero(t, res.AvgSimilarity)
	assert.Positive(t, res.Elapsed)
	assert.Zero(t, fx.embedder.Calls(), "ranking must not run")
	assert.Nil(t, fx.validator.candidates, "validation must not run")
	require.NotEmpty(t, events)
	assert.Equal(t, types.ProgressEvent{Message: "Found 0 unique papers", Percent: 35}, events[len(events)-1])
}

func TestRun_PartialSourceFailure(t *testing.T) {
	backends := []search.Backend{
		&stubBackend{name: types.SourcePubMed, err: errors.New("HTTP 500")},
		&stubBackend{name: types.SourceOpenAlex, papers: []types.Paper{
			pap(types.SourceOpenAlex, "a", "Sepsis A", "sepsis a"),
			pap(types.SourceOpenAlex, "b", "Sepsis B", "sepsis b"),
			pap(types.SourceOpenAlex, "c", "sepsis a", "duplicate"),
		}},
	}
	fx := newFixture(t, backends, allIndices())

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalFound)
	assert.ElementsMatch(t, []string{"a", "b"}, paperIDs(res.Papers))
	assert.Equal(t, []string{"pubmed: HTTP 500"}, res.SourceErrors)
}

func TestRun_AllSourcesFail(t *testing.T) {
	backends := []search.Backend{
		&stubBackend{name: types.SourcePubMed, err: errors.New("down")},
		&stubBackend{name: types.SourceArxiv, err: errors.New("down")},
	}
	fx := newFixture(t, backends, allIndices())

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.TotalFound)
	assert.Len(t, res.SourceErrors, 2)
}

func TestRun_ValidatorFallback(t *testing.T) {
	var papers []types.Paper
	for i := 0; i < 20; i++ {
		papers = append(papers, pap(types.SourcePubMed, fmt.Sprint(i), fmt.Sprintf("sepsis study %d", i), fmt.Sprintf("sepsis cohort %d in ICU patients", i)))
	}
	backends := []search.Backend{&stubBackend{name: types.SourcePubMed, papers: papers}}
	fx := newFixture(t, backends, llm.ProviderFunc(func(context.Context, llm.Request) (string, error) {
		return "[0]", nil
	}))

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{MaxPapers: 6})
	require.NoError(t, err)
	require.Len(t, fx.validator.candidates, 16, "max papers plus buffer")
	assert.Equal(t, fx.validator.candidates[:6], res.Papers)
}

func TestRun_MonotonicNarrowing(t *testing.T) {
	var papers []types.Paper
	for i := 0; i < 80; i++ {
		abstract := fmt.Sprintf("sepsis prediction cohort %d", i)
		if i%4 == 0 {
			abstract = types.AbstractUnavailable
		}
		papers = append(papers, pap(types.SourcePubMed, fmt.Sprint(i), fmt.Sprintf("Sepsis paper %d", i), abstract))
	}
	backends := []search.Backend{&stubBackend{name: types.SourcePubMed, papers: papers}}
	fx := newFixture(t, backends, allIndices())

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{MaxPapers: 10})
	require.NoError(t, err)

	s := res.Stages
	assert.Equal(t, 80, s.Found)
	assert.Equal(t, 60, s.WithAbstract)
	assert.Equal(t, 50, s.TitleRanked)
	assert.Equal(t, 20, s.AbstractRanked)
	assert.Equal(t, 10, s.Final)
	assert.GreaterOrEqual(t, s.Found, s.WithAbstract)
	assert.GreaterOrEqual(t, s.WithAbstract, s.TitleRanked)
	assert.GreaterOrEqual(t, s.TitleRanked, s.AbstractRanked)
	assert.GreaterOrEqual(t, s.AbstractRanked, s.Final)

	for _, p := range res.Papers {
		assert.True(t, p.HasAbstract())
	}
}

func TestRun_ProgressSequence(t *testing.T) {
	fx := newFixture(t, sepsisBackends(), allIndices())

	var events []types.ProgressEvent
	_, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{
		MaxPapers: 5,
		Sources:   []types.SourceID{types.SourcePubMed, types.SourceOpenAlex},
		Progress:  func(e types.ProgressEvent) { events = append(events, e) },
	})
	require.NoError(t, err)

	percents := make([]int, len(events))
	for i, e := range events {
		percents[i] = e.Percent
	}
	assert.Equal(t, []int{10, 15, 20, 35, 45, 50, 70, 85, 100}, percents)
	assert.Equal(t, "Extracting keywords...", events[0].Message)
	assert.Equal(t, "Searching PubMed, OpenAlex...", events[2].Message)
	assert.Equal(t, "Found 5 unique papers", events[3].Message)
	assert.Equal(t, "Filtered to 5 papers with abstracts", events[4].Message)
	assert.Regexp(t, `^Completed! \d+ papers ranked \(avg similarity: \d\.\d\d\)$`, events[8].Message)
}

func TestRun_PanickingSink(t *testing.T) {
	fx := newFixture(t, sepsisBackends(), allIndices())

	calls := 0
	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{
		Progress: func(types.ProgressEvent) {
			calls++
			panic("sink exploded")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalFound)
	assert.Equal(t, 9, calls)
}

func TestProgress_NonDecreasing(t *testing.T) {
	var got []int
	p := newProgress(func(e types.ProgressEvent) { got = append(got, e.Percent) }, nil)
	p.emit("a", 20)
	p.emit("b", 10)
	p.emit("c", 150)
	assert.Equal(t, []int{20, 20, 100}, got)
}

func TestRun_EmbeddingFailure(t *testing.T) {
	f, err := New(Deps{
		Extractor: keywords.New(nil, nil),
		Backends:  sepsisBackends(),
		Ranker: rank.New(embeddingtest.Func(func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("embedding service unavailable")
		}), nil),
		Validator: validate.New(nil),
	}, types.DefaultFunnelConfig())
	require.NoError(t, err)
	defer f.Close()

	res, err := f.Run(context.Background(), sepsisAbstract, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, rank.ErrEmbedding)
	assert.Contains(t, err.Error(), StageTitle)
	assert.Equal(t, types.RankingResult{}, res)
}

func TestRun_UnknownSource(t *testing.T) {
	fx := newFixture(t, sepsisBackends(), allIndices())
	_, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{Sources: []types.SourceID{"scholar"}})
	assert.ErrorIs(t, err, search.ErrUnknownSource)
}

func TestRun_SourceSubset(t *testing.T) {
	backends := sepsisBackends()
	fx := newFixture(t, backends, allIndices())

	res, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{Sources: []types.SourceID{types.SourceOpenAlex}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalFound)
	assert.Zero(t, backends[0].(*stubBackend).calls)
}

func TestRun_RecorderErrorIgnored(t *testing.T) {
	fx := newFixture(t, sepsisBackends(), allIndices())
	fx.recorder.err = errors.New("disk full")

	_, err := fx.funnel.Run(context.Background(), sepsisAbstract, RunOptions{})
	assert.NoError(t, err)
}

func TestNew_MissingDependencies(t *testing.T) {
	ranker := rank.New(&embeddingtest.Hash{}, nil)
	ext := keywords.New(nil, nil)
	val := validate.New(nil)
	backends := sepsisBackends()

	tests := []struct {
		name string
		deps Deps
	}{
		{"extractor", Deps{Backends: backends, Ranker: ranker, Validator: val}},
		{"ranker", Deps{Extractor: ext, Backends: backends, Validator: val}},
		{"validator", Deps{Extractor: ext, Backends: backends, Ranker: ranker}},
		{"backends", Deps{Extractor: ext, Ranker: ranker, Validator: val}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps, types.FunnelConfig{})
			assert.ErrorIs(t, err, ErrMissingDependency)
		})
	}
}

func TestWithDefaults(t *testing.T) {
	got := withDefaults(types.FunnelConfig{YearMin: 2018, CandidateBuffer: -1})
	def := types.DefaultFunnelConfig()
	assert.Equal(t, def.MaxPapers, got.MaxPapers)
	assert.Equal(t, def.TitleRankLimit, got.TitleRankLimit)
	assert.Equal(t, def.CandidateBuffer, got.CandidateBuffer)
	assert.Equal(t, 2018, got.YearMin)

	assert.Zero(t, withDefaults(types.FunnelConfig{}).CandidateBuffer, "zero buffer is kept")
}

func TestRun_ZeroCandidateBuffer(t *testing.T) {
	var papers []types.Paper
	for i := 0; i < 20; i++ {
		papers = append(papers, pap(types.SourcePubMed, fmt.Sprint(i), fmt.Sprintf("sepsis study %d", i), fmt.Sprintf("sepsis cohort %d", i)))
	}
	cfg := types.DefaultFunnelConfig()
	cfg.CandidateBuffer = 0

	v := &recordingValidator{inner: validate.New(allIndices())}
	f, err := New(Deps{
		Extractor: keywords.New(nil, nil),
		Backends:  []search.Backend{&stubBackend{name: types.SourcePubMed, papers: papers}},
		Ranker:    rank.New(&embeddingtest.Hash{Dim: 64}, nil),
		Validator: v,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	res, err := f.Run(context.Background(), sepsisAbstract, RunOptions{MaxPapers: 6})
	require.NoError(t, err)
	assert.Len(t, v.candidates, 6, "no extra candidates beyond max papers")
	assert.Len(t, res.Papers, 6)
}

// barrierBackend blocks each search until want searches are in flight.
type barrierBackend struct {
	want    int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (b *barrierBackend) Name() types.SourceID { return types.SourcePubMed }

func (b *barrierBackend) Search(ctx context.Context, _ types.StructuredQuery, _ search.Params) ([]types.Paper, error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.want {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
		return []types.Paper{pap(types.SourcePubMed, "1", "Sepsis", "sepsis cohort")}, nil
	case <-time.After(5 * time.Second):
		return nil, errors.New("searches were not concurrent")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRun_ConcurrentRunsSearchInParallel(t *testing.T) {
	backend := &barrierBackend{want: 2, release: make(chan struct{})}
	f, err := New(Deps{
		Extractor: keywords.New(nil, nil),
		Backends:  []search.Backend{backend},
		Ranker:    rank.New(&embeddingtest.Hash{Dim: 64}, nil),
		Validator: validate.New(allIndices()),
	}, types.DefaultFunnelConfig(), WithConcurrentRuns(2))
	require.NoError(t, err)
	t.Cleanup(f.Close)
	assert.Equal(t, 2, f.pool.Cap())

	var wg sync.WaitGroup
	results := make([]types.RankingResult, 2)
	errs := make([]error, 2)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Run(context.Background(), sepsisAbstract, RunOptions{MaxPapers: 1})
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Empty(t, results[i].SourceErrors)
		assert.Len(t, results[i].Papers, 1)
	}
}

func TestNew_PoolSize(t *testing.T) {
	fx := newFixture(t, sepsisBackends(), allIndices())
	assert.Equal(t, 2*DefaultConcurrentRuns, fx.funnel.pool.Cap())

	fx = newFixture(t, sepsisBackends(), allIndices(), WithConcurrentRuns(0))
	assert.Equal(t, 2*DefaultConcurrentRuns, fx.funnel.pool.Cap(), "values below 1 are ignored")
}

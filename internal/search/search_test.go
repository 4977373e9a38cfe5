// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litfunnel/internal/httputil"
	"github.com/pdiddy/litfunnel/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
	pubmedDelay = 0
	pubmedKeyDelay = 0
}

// --- mock backend ---

type mockBackend struct {
	name   types.SourceID
	papers []types.Paper
	err    error
	delay  time.Duration
	panics bool
}

func (m *mockBackend) Name() types.SourceID { return m.name }

func (m *mockBackend) Search(ctx context.Context, _ types.StructuredQuery, _ Params) ([]types.Paper, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panics {
		panic("boom")
	}
	return m.papers, m.err
}

func paper(src types.SourceID, id, title string) types.Paper {
	return types.Paper{ID: id, Source: src, Title: title, Abstract: "abstract of " + title}
}

func testQuery() types.StructuredQuery {
	return types.NewStructuredQuery([]string{"sepsis"}, []string{"machine learning"}, nil)
}

// --- Deduplicate ---

func TestDeduplicate(t *testing.T) {
	in := []types.Paper{
		paper(types.SourcePubMed, "1", "Sepsis Prediction"),
		paper(types.SourcePubMed, "2", "Lactate in ICU"),
		paper(types.SourceOpenAlex, "W1", "  sepsis prediction "),
		paper(types.SourceOpenAlex, "W2", "Sepsis prediction."),
		paper(types.SourceArxiv, "a1", "LACTATE IN ICU"),
	}

	got, removed := Deduplicate(in)
	assert.Equal(t, 2, removed)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID, "first occurrence wins")
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "W2", got[2].ID, "punctuation differences are distinct")
}

func TestDeduplicateEmpty(t *testing.T) {
	got, removed := Deduplicate(nil)
	assert.Empty(t, got)
	assert.Zero(t, removed)
}

func TestDeduplicateIdempotent(t *testing.T) {
	in := []types.Paper{
		paper(types.SourcePubMed, "1", "A"),
		paper(types.SourcePubMed, "2", "a"),
		paper(types.SourcePubMed, "3", "B"),
	}
	once, _ := Deduplicate(in)
	twice, removed := Deduplicate(once)
	assert.Equal(t, once, twice)
	assert.Zero(t, removed)
}

// --- FilterAbstracts ---

func TestFilterAbstracts(t *testing.T) {
	in := []types.Paper{
		{ID: "1", Title: "has abstract", Abstract: "Full text."},
		{ID: "2", Title: "missing", Abstract: types.AbstractUnavailable},
		{ID: "3", Title: "short", Abstract: "x"},
	}
	got := FilterAbstracts(in)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID, "short abstracts are kept")
	assert.Len(t, in, 3, "input is not modified")
}

// --- Backend wiring ---

func TestNewBackends(t *testing.T) {
	cfg := types.DefaultConfig().Search
	backends, err := NewBackends(cfg)
	require.NoError(t, err)

	var names []types.SourceID
	for _, b := range backends {
		names = append(names, b.Name())
	}
	assert.Equal(t, types.AllSources, names)

	cfg.Sources = []types.SourceID{"scholar"}
	_, err = NewBackends(cfg)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestSelect(t *testing.T) {
	all := []Backend{
		&mockBackend{name: types.SourcePubMed},
		&mockBackend{name: types.SourceOpenAlex},
		&mockBackend{name: types.SourceArxiv},
	}

	got, err := Select(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = Select(all, []types.SourceID{types.SourceArxiv, types.SourcePubMed})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.SourcePubMed, got[0].Name(), "backend order is kept")
	assert.Equal(t, types.SourceArxiv, got[1].Name())

	_, err = Select(all, []types.SourceID{types.SourcePubMed, "scholar"})
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.Contains(t, err.Error(), "scholar")
}

func TestParseSources(t *testing.T) {
	assert.Equal(t, []types.SourceID{"pubmed", "arxiv"}, ParseSources(" pubmed, ,arxiv "))
	assert.Empty(t, ParseSources(""))
}

// --- Params helpers ---

func TestParamsYearRange(t *testing.T) {
	assert.Equal(t, "2020-2025", Params{YearMin: 2020, YearMax: 2025}.yearRange())
	assert.Equal(t, "2020-", Params{YearMin: 2020}.yearRange())
	assert.Equal(t, "-2025", Params{YearMax: 2025}.yearRange())
	assert.Equal(t, "", Params{}.yearRange())

	p := Params{YearMin: 2020, YearMax: 2025}
	assert.True(t, p.inYearRange(2020))
	assert.True(t, p.inYearRange(2025))
	assert.True(t, p.inYearRange(0), "unknown year passes")
	assert.False(t, p.inYearRange(2019))
	assert.False(t, p.inYearRange(2026))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 100, clampLimit(0, 100, 200))
	assert.Equal(t, 200, clampLimit(500, 100, 200))
	assert.Equal(t, 50, clampLimit(50, 100, 200))
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}

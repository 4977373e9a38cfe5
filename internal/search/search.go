// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search queries bibliographic sources for candidate papers. Each
// source is a Backend; Pool runs them concurrently and collects per-source
// failures without letting one source sink the others. Deduplicate and
// FilterAbstracts narrow the merged candidate list.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/litfunnel/pkg/types"
)

var (
	// ErrEmptyQuery is returned by a backend given a query with no terms.
	ErrEmptyQuery = errors.New("search: empty query")

	// ErrUnknownSource is returned when a source ID has no backend.
	ErrUnknownSource = errors.New("search: unknown source")

	// ErrBackendPanic records a backend that panicked during a search.
	ErrBackendPanic = errors.New("search: backend panic")
)

// Params constrains a single backend search.
type Params struct {
	// YearMin and YearMax bound the publication year, inclusive. Zero
	// leaves that side open.
	YearMin int
	YearMax int

	// Limit caps the number of records requested. Backends clamp it to
	// their API maximum.
	Limit int
}

// Backend searches one bibliographic source. A search that matches nothing
// returns nil, nil; errors are reserved for transport failures and
// malformed upstream responses.
type Backend interface {
	Name() types.SourceID
	Search(ctx context.Context, q types.StructuredQuery, p Params) ([]types.Paper, error)
}

// SourceFailure records a backend that failed during a fan-out.
type SourceFailure struct {
	Source types.SourceID
	Err    error
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Source, f.Err)
}

// NewBackends builds the backends named by cfg.Sources, in that order.
func NewBackends(cfg types.SearchConfig) ([]Backend, error) {
	client := &http.Client{Timeout: cfg.Timeout}

	var out []Backend
	for _, id := range cfg.Sources {
		switch id {
		case types.SourcePubMed:
			out = append(out, &PubMedBackend{Client: client, APIKey: cfg.PubMedAPIKey, UserAgent: cfg.UserAgent})
		case types.SourceSemanticScholar:
			out = append(out, &SemanticScholarBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey, UserAgent: cfg.UserAgent})
		case types.SourceOpenAlex:
			out = append(out, &OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail, UserAgent: cfg.UserAgent})
		case types.SourceArxiv:
			out = append(out, &ArxivBackend{Client: client, UserAgent: cfg.UserAgent})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
		}
	}
	return out, nil
}

// Select returns the backends whose names appear in ids, keeping the order
// of backends. An empty ids selects all of them.
func Select(backends []Backend, ids []types.SourceID) ([]Backend, error) {
	if len(ids) == 0 {
		return backends, nil
	}

	want := make(map[types.SourceID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []Backend
	for _, b := range backends {
		if want[b.Name()] {
			out = append(out, b)
			delete(want, b.Name())
		}
	}
	if len(want) > 0 {
		var missing []string
		for _, id := range ids {
			if want[id] {
				missing = append(missing, string(id))
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, strings.Join(missing, ", "))
	}
	return out, nil
}

// ParseSources converts comma-separated source names to IDs.
func ParseSources(s string) []types.SourceID {
	var out []types.SourceID
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, types.SourceID(part))
		}
	}
	return out
}

// Deduplicate removes papers whose title matches an earlier paper, ignoring
// case and surrounding whitespace. The first occurrence wins and order is
// preserved. It returns the unique papers and how many were removed.
func Deduplicate(papers []types.Paper) ([]types.Paper, int) {
	seen := make(map[string]bool, len(papers))
	out := make([]types.Paper, 0, len(papers))
	for _, p := range papers {
		key := strings.ToLower(strings.TrimSpace(p.Title))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out, len(papers) - len(out)
}

// FilterAbstracts drops papers without abstract text.
func FilterAbstracts(papers []types.Paper) []types.Paper {
	out := make([]types.Paper, 0, len(papers))
	for _, p := range papers {
		if p.HasAbstract() {
			out = append(out, p)
		}
	}
	return out
}

// orUnavailable maps an empty abstract to the sentinel.
func orUnavailable(abstract string) string {
	if strings.TrimSpace(abstract) == "" {
		return types.AbstractUnavailable
	}
	return strings.TrimSpace(abstract)
}

// inYearRange reports whether year satisfies p. An unknown year (0) passes.
func (p Params) inYearRange(year int) bool {
	if year == 0 {
		return true
	}
	if p.YearMin > 0 && year < p.YearMin {
		return false
	}
	if p.YearMax > 0 && year > p.YearMax {
		return false
	}
	return true
}

// yearRange renders "2020-2025", "2020-" or "-2025"; empty when both are open.
func (p Params) yearRange() string {
	switch {
	case p.YearMin > 0 && p.YearMax > 0:
		return fmt.Sprintf("%d-%d", p.YearMin, p.YearMax)
	case p.YearMin > 0:
		return fmt.Sprintf("%d-", p.YearMin)
	case p.YearMax > 0:
		return fmt.Sprintf("-%d", p.YearMax)
	}
	return ""
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

func doiLink(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	if strings.HasPrefix(doi, "http") {
		return doi
	}
	return "https://doi.org/" + doi
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/litfunnel/internal/httputil"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

const (
	arxivDefaultLimit = 100
	arxivMaxLimit     = 500
	arxivTermLimit    = 3
	arxivVenue        = "arXiv"
)

// ArxivBackend queries the arXiv API. arXiv has no year filter, so the
// range is applied to the returned entries.
type ArxivBackend struct {
	Client    *http.Client
	UserAgent string
}

// Name returns the backend identifier.
func (b *ArxivBackend) Name() types.SourceID { return types.SourceArxiv }

// Search ANDs the first three keywords as all-field phrases.
func (b *ArxivBackend) Search(ctx context.Context, q types.StructuredQuery, p Params) ([]types.Paper, error) {
	sq := buildArxivQuery(q.Keywords)
	if sq == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{
		"search_query": {sq},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(clampLimit(p.Limit, arxivDefaultLimit, arxivMaxLimit))},
		"sortBy":       {"relevance"},
		"sortOrder":    {"descending"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	var papers []types.Paper
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}

		year := 0
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			year = t.Year()
		}
		if !p.inYearRange(year) {
			continue
		}

		paper := types.Paper{
			ID:       arxivID,
			Source:   types.SourceArxiv,
			Title:    strings.Join(strings.Fields(entry.Title), " "),
			Abstract: orUnavailable(strings.Join(strings.Fields(entry.Summary), " ")),
			Year:     year,
			Venue:    arxivVenue,
			Link:     strings.TrimSpace(entry.ID),
		}
		if entry.DOI != "" {
			paper.Link = doiLink(entry.DOI)
		}
		for _, a := range entry.Authors {
			paper.Authors = append(paper.Authors, strings.TrimSpace(a.Name))
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// buildArxivQuery ANDs up to three keywords. Multi-word keywords are quoted
// as phrases.
func buildArxivQuery(kws []string) string {
	var parts []string
	for _, kw := range kws {
		if len(parts) >= arxivTermLimit {
			break
		}
		terms := strings.Fields(strings.ReplaceAll(kw, `"`, ""))
		switch len(terms) {
		case 0:
			continue
		case 1:
			parts = append(parts, "all:"+terms[0])
		default:
			parts = append(parts, `all:"`+strings.Join(terms, " ")+`"`)
		}
	}
	return strings.Join(parts, " AND ")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	DOI       string        `xml:"http://arxiv.org/schemas/atom doi"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := strings.TrimSpace(idURL[idx+len(prefix):])

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

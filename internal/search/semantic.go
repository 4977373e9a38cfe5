// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/litfunnel/internal/httputil"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const (
	semanticFields       = "title,abstract,authors,externalIds,year,venue,citationCount,url"
	semanticDefaultLimit = 100
	semanticMaxLimit     = 100
)

// SemanticScholarBackend queries the Semantic Scholar graph API.
type SemanticScholarBackend struct {
	Client    *http.Client
	APIKey    string
	UserAgent string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() types.SourceID { return types.SourceSemanticScholar }

// Search runs a relevance search over the space-joined keywords.
func (b *SemanticScholarBackend) Search(ctx context.Context, q types.StructuredQuery, p Params) ([]types.Paper, error) {
	text := strings.Join(q.Keywords, " ")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{
		"query":  {text},
		"limit":  {strconv.Itoa(clampLimit(p.Limit, semanticDefaultLimit, semanticMaxLimit))},
		"fields": {semanticFields},
	}
	if yr := p.yearRange(); yr != "" {
		params.Set("year", yr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	var papers []types.Paper
	for _, sp := range sr.Data {
		if strings.TrimSpace(sp.Title) == "" {
			continue
		}
		paper := types.Paper{
			ID:        sp.PaperID,
			Source:    types.SourceSemanticScholar,
			Title:     strings.TrimSpace(sp.Title),
			Abstract:  orUnavailable(sp.Abstract),
			Year:      sp.Year,
			Venue:     sp.Venue,
			Citations: sp.CitationCount,
			Link:      sp.URL,
		}
		if sp.ExternalIDs.DOI != "" {
			paper.Link = doiLink(sp.ExternalIDs.DOI)
		}
		for _, a := range sp.Authors {
			if a.Name != "" {
				paper.Authors = append(paper.Authors, a.Name)
			}
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID       string              `json:"paperId"`
	Title         string              `json:"title"`
	Abstract      string              `json:"abstract"`
	Year          int                 `json:"year"`
	Venue         string              `json:"venue"`
	CitationCount int                 `json:"citationCount"`
	URL           string              `json:"url"`
	Authors       []semanticAuthor    `json:"authors"`
	ExternalIDs   semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI    string `json:"DOI"`
	ArXiv  string `json:"ArXiv"`
	PubMed string `json:"PubMed"`
}

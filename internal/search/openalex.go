// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/litfunnel/internal/httputil"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

const (
	openAlexDefaultLimit = 200
	openAlexMaxLimit     = 200
)

// OpenAlexBackend queries the OpenAlex API.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email     string
	UserAgent string
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() types.SourceID { return types.SourceOpenAlex }

// Search runs a full-text works search over the space-joined keywords.
func (b *OpenAlexBackend) Search(ctx context.Context, q types.StructuredQuery, p Params) ([]types.Paper, error) {
	text := strings.Join(q.Keywords, " ")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{
		"search":   {text},
		"per_page": {strconv.Itoa(clampLimit(p.Limit, openAlexDefaultLimit, openAlexMaxLimit))},
		"page":     {"1"},
	}
	if yr := p.yearRange(); yr != "" {
		params.Set("filter", "publication_year:"+yr)
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	var papers []types.Paper
	for _, work := range oar.Results {
		if strings.TrimSpace(work.Title) == "" {
			continue
		}
		paper := types.Paper{
			ID:        strings.TrimPrefix(work.ID, "https://openalex.org/"),
			Source:    types.SourceOpenAlex,
			Title:     strings.TrimSpace(work.Title),
			Abstract:  orUnavailable(reconstructAbstract(work.AbstractInvertedIndex)),
			Year:      work.PublicationYear,
			Venue:     work.PrimaryLocation.Source.DisplayName,
			Citations: work.CitedByCount,
			Link:      doiLink(work.DOI),
		}
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				paper.Authors = append(paper.Authors, authorship.Author.DisplayName)
			}
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexLocation struct {
	Source openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}

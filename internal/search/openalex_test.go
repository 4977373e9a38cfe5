// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pdiddy/litfunnel/pkg/types"
)

const sampleOpenAlexResponse = `{
  "meta": {"count": 2, "per_page": 200, "page": 1},
  "results": [
    {
      "id": "https://openalex.org/W4200000001",
      "title": "Early warning scores for sepsis",
      "doi": "https://doi.org/10.1016/j.jcrc.2022.01.001",
      "publication_year": 2022,
      "cited_by_count": 17,
      "authorships": [
        {"author": {"id": "A1", "display_name": "Maria Garcia"}},
        {"author": {"id": "A2", "display_name": "Wei Chen"}}
      ],
      "abstract_inverted_index": {"Sepsis": [0], "kills": [1], "millions.": [2]},
      "primary_location": {"source": {"display_name": "Journal of Critical Care"}}
    },
    {
      "id": "https://openalex.org/W4200000002",
      "title": "Sepsis registry report",
      "doi": null,
      "publication_year": 2024,
      "cited_by_count": 0,
      "authorships": [],
      "abstract_inverted_index": null,
      "primary_location": {"source": null}
    },
    {
      "id": "https://openalex.org/W4200000003",
      "title": null
    }
  ]
}`

func TestOpenAlexBackendSearch(t *testing.T) {
	var got capturedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.query = r.URL.Query()
		got.userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, sampleOpenAlexResponse)
	}))
	defer ts.Close()
	old := openAlexSearchBase
	openAlexSearchBase = ts.URL
	defer func() { openAlexSearchBase = old }()

	b := &OpenAlexBackend{Client: ts.Client(), Email: "team@example.org", UserAgent: "litfunnel-test"}
	papers, err := b.Search(context.Background(), testQuery(), Params{YearMin: 2020, YearMax: 2025})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if s := got.query.Get("search"); s != "sepsis machine learning" {
		t.Errorf("search = %q", s)
	}
	if f := got.query.Get("filter"); f != "publication_year:2020-2025" {
		t.Errorf("filter = %q", f)
	}
	if m := got.query.Get("mailto"); m != "team@example.org" {
		t.Errorf("mailto = %q", m)
	}
	if pp := got.query.Get("per_page"); pp != "200" {
		t.Errorf("per_page = %q", pp)
	}

	if len(papers) != 2 {
		t.Fatalf("len(papers) = %d, want 2 (null title skipped)", len(papers))
	}

	p0 := papers[0]
	if p0.ID != "W4200000001" || p0.Source != types.SourceOpenAlex {
		t.Errorf("ID/Source = %q/%q", p0.ID, p0.Source)
	}
	if p0.Abstract != "Sepsis kills millions." {
		t.Errorf("Abstract = %q", p0.Abstract)
	}
	if p0.Venue != "Journal of Critical Care" || p0.Citations != 17 || p0.Year != 2022 {
		t.Errorf("Venue/Citations/Year = %q/%d/%d", p0.Venue, p0.Citations, p0.Year)
	}
	if p0.Link != "https://doi.org/10.1016/j.jcrc.2022.01.001" {
		t.Errorf("Link = %q", p0.Link)
	}
	if strings.Join(p0.Authors, "|") != "Maria Garcia|Wei Chen" {
		t.Errorf("Authors = %v", p0.Authors)
	}

	p1 := papers[1]
	if p1.Abstract != types.AbstractUnavailable {
		t.Errorf("Abstract = %q, want sentinel", p1.Abstract)
	}
	if p1.Link != "" || p1.Venue != "" {
		t.Errorf("Link/Venue = %q/%q, want empty", p1.Link, p1.Venue)
	}
}

func TestOpenAlexBackendHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()
	old := openAlexSearchBase
	openAlexSearchBase = ts.URL
	defer func() { openAlexSearchBase = old }()

	b := &OpenAlexBackend{Client: ts.Client()}
	_, err := b.Search(context.Background(), testQuery(), Params{})
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Fatalf("err = %v, want HTTP 500", err)
	}
}

func TestReconstructAbstract(t *testing.T) {
	tests := []struct {
		name  string
		index map[string][]int
		want  string
	}{
		{"nil", nil, ""},
		{"empty", map[string][]int{}, ""},
		{"ordered", map[string][]int{"hello": {0}, "world": {1}}, "hello world"},
		{"repeated word", map[string][]int{"the": {0, 2}, "cat": {1}, "hat": {3}}, "the cat the hat"},
		{"out of order", map[string][]int{"c": {2}, "a": {0}, "b": {1}}, "a b c"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := reconstructAbstract(tt.index); got != tt.want {
				t.Errorf("reconstructAbstract() = %q, want %q", got, tt.want)
			}
		})
	}
}

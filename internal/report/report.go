// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders funnel results as a terminal table, compact JSON,
// or CSL-YAML, and saves runs to files that can be reloaded later.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pdiddy/litfunnel/pkg/types"
)

const (
	summaryAuthors  = 3
	summaryAbstract = 300
)

// PaperSummary is the compact form of a paper returned to callers.
type PaperSummary struct {
	ID         string         `json:"id"`
	Source     types.SourceID `json:"source"`
	Title      string         `json:"title"`
	Authors    []string       `json:"authors"`
	Abstract   string         `json:"abstract"`
	Year       int            `json:"year"`
	Venue      string         `json:"venue"`
	Link       string         `json:"link,omitempty"`
	Citations  int            `json:"citations"`
	Similarity float64        `json:"similarity"`
	Citation   string         `json:"citation"`
}

// Summary is the compact form of a RankingResult.
type Summary struct {
	Papers         []PaperSummary    `json:"papers"`
	TotalFound     int               `json:"total_found"`
	TotalRanked    int               `json:"total_ranked"`
	AvgSimilarity  float64           `json:"avg_similarity"`
	ElapsedSeconds float64           `json:"processing_time_seconds"`
	Keywords       []string          `json:"keywords"`
	Stages         types.StageCounts `json:"stages"`
	SourceErrors   []string          `json:"source_errors,omitempty"`
}

// Summarize builds the compact form: similarities rounded to three
// decimals, the first three authors, and abstracts cut at 300 characters.
func Summarize(res types.RankingResult) Summary {
	s := Summary{
		Papers:         make([]PaperSummary, len(res.Papers)),
		TotalFound:     res.TotalFound,
		TotalRanked:    res.TotalRanked,
		AvgSimilarity:  round3(res.AvgSimilarity),
		ElapsedSeconds: math.Round(res.Elapsed.Seconds()*100) / 100,
		Keywords:       res.Query.Keywords,
		Stages:         res.Stages,
		SourceErrors:   res.SourceErrors,
	}
	for i, p := range res.Papers {
		s.Papers[i] = summarizePaper(p)
	}
	return s
}

func summarizePaper(p types.Paper) PaperSummary {
	authors := p.Authors
	if len(authors) > summaryAuthors {
		authors = authors[:summaryAuthors]
	}
	abstract := p.Abstract
	if r := []rune(abstract); len(r) > summaryAbstract {
		abstract = string(r[:summaryAbstract]) + "..."
	}
	return PaperSummary{
		ID:         p.ID,
		Source:     p.Source,
		Title:      p.Title,
		Authors:    authors,
		Abstract:   abstract,
		Year:       p.Year,
		Venue:      p.Venue,
		Link:       p.Link,
		Citations:  p.Citations,
		Similarity: round3(p.Similarity),
		Citation:   p.CitationText(),
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// FormatJSON writes the summary of res as indented JSON.
func FormatJSON(res types.RankingResult, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Summarize(res))
}

// FormatTable writes res as an aligned text table followed by totals.
func FormatTable(res types.RankingResult, w io.Writer) error {
	if len(res.Papers) == 0 {
		_, err := fmt.Fprintln(w, "No papers found.")
		return err
	}

	fmt.Fprintf(w, "%-4s  %-5s  %-60s  %-20s  %-4s  %s\n", "Rank", "Sim", "Title", "Authors", "Year", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, p := range res.Papers {
		authors := ""
		if len(p.Authors) > 0 {
			authors = p.Authors[0]
			if len(p.Authors) > 1 {
				authors += " et al."
			}
		}
		fmt.Fprintf(w, "%-4d  %.3f  %-60s  %-20s  %-4d  %s\n",
			i+1, p.Similarity, clip(p.Title, 60), clip(authors, 20), p.Year, p.Source)
	}

	fmt.Fprintf(w, "\n%d of %d papers ranked (avg similarity: %.2f) in %.1fs\n",
		res.TotalRanked, res.TotalFound, res.AvgSimilarity, res.Elapsed.Seconds())
	for _, e := range res.SourceErrors {
		fmt.Fprintf(w, "  source error: %s\n", e)
	}
	return nil
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

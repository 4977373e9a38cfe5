// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the litfunnel pipeline:
// papers, structured queries, ranking results, progress events, and the
// typed configuration loaded by the CLI.
package types

import (
	"strings"
	"time"
)

// MaxKeywords caps the merged keyword list of a StructuredQuery.
const MaxKeywords = 5

// StructuredQuery holds search terms classified by semantic role. Order
// within each list encodes priority for query construction.
type StructuredQuery struct {
	// Condition lists disease or subject terms.
	Condition []string `json:"condition" yaml:"condition"`

	// Method lists technique or intervention terms.
	Method []string `json:"method" yaml:"method"`

	// Population lists target group terms.
	Population []string `json:"population" yaml:"population"`

	// Keywords is the merged list: condition, then method, then population,
	// with case-insensitive duplicates removed, capped at MaxKeywords.
	Keywords []string `json:"keywords" yaml:"keywords"`

	// Structured reports whether the category lists came from the
	// language model rather than the rule-based extractor.
	Structured bool `json:"structured" yaml:"structured"`
}

// NewStructuredQuery builds a StructuredQuery and its merged keyword list.
func NewStructuredQuery(condition, method, population []string) StructuredQuery {
	return StructuredQuery{
		Condition:  condition,
		Method:     method,
		Population: population,
		Keywords:   MergeTerms(MaxKeywords, condition, method, population),
	}
}

// MergeTerms concatenates groups in order, dropping blank entries and
// case-insensitive duplicates, and stops at limit terms.
func MergeTerms(limit int, groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, t := range g {
			t = strings.TrimSpace(t)
			key := strings.ToLower(t)
			if t == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// IsEmpty reports whether the query has no usable search terms.
func (q StructuredQuery) IsEmpty() bool {
	return len(q.Keywords) == 0
}

// StageCounts records how many candidates survived each funnel stage.
type StageCounts struct {
	Found          int `json:"found" yaml:"found"`
	WithAbstract   int `json:"with_abstract" yaml:"with_abstract"`
	TitleRanked    int `json:"title_ranked" yaml:"title_ranked"`
	AbstractRanked int `json:"abstract_ranked" yaml:"abstract_ranked"`
	Final          int `json:"final" yaml:"final"`
}

// RankingResult is the output of one funnel run. It is built once at the
// end of the run and not modified afterward.
type RankingResult struct {
	// Papers is the final ordered list.
	Papers []Paper `json:"papers" yaml:"papers"`

	// TotalFound is the number of unique papers after deduplication.
	TotalFound int `json:"total_found" yaml:"total_found"`

	// TotalRanked is the number of papers retained after the full funnel.
	TotalRanked int `json:"total_ranked" yaml:"total_ranked"`

	// AvgSimilarity is the mean similarity of Papers, 0 when empty.
	AvgSimilarity float64 `json:"avg_similarity" yaml:"avg_similarity"`

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	// Query is the structured query the run searched with.
	Query StructuredQuery `json:"query" yaml:"query"`

	// Stages holds per-stage survivor counts.
	Stages StageCounts `json:"stages" yaml:"stages"`

	// SourceErrors lists backend failures as "source: message".
	SourceErrors []string `json:"source_errors,omitempty" yaml:"source_errors,omitempty"`
}

// ProgressEvent is a progress notification emitted between funnel stages.
// Percent never decreases within one run.
type ProgressEvent struct {
	Message string `json:"message" yaml:"message"`
	Percent int    `json:"percent" yaml:"percent"`
}

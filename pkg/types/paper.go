// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// AbstractUnavailable is written by backends into Paper.Abstract when the
// upstream record carries no abstract text.
const AbstractUnavailable = "No abstract available"

// SourceID names a bibliographic backend.
type SourceID string

const (
	SourcePubMed          SourceID = "pubmed"
	SourceSemanticScholar SourceID = "semantic_scholar"
	SourceOpenAlex        SourceID = "openalex"
	SourceArxiv           SourceID = "arxiv"
)

// AllSources lists every backend in fan-out priority order. Results are
// concatenated in this order before deduplication.
var AllSources = []SourceID{SourcePubMed, SourceSemanticScholar, SourceOpenAlex, SourceArxiv}

// DisplayName returns the human-readable source name used in progress
// messages.
func (s SourceID) DisplayName() string {
	switch s {
	case SourcePubMed:
		return "PubMed"
	case SourceSemanticScholar:
		return "Semantic Scholar"
	case SourceOpenAlex:
		return "OpenAlex"
	case SourceArxiv:
		return "arXiv"
	}
	return string(s)
}

// Paper is the unit of retrieval. It is created by a backend and copied,
// never mutated, by each ranking stage it survives.
type Paper struct {
	// ID is the source-scoped identifier (PMID, DOI, arXiv ID, S2 paper ID).
	ID string `json:"id" yaml:"id"`

	// Source identifies which backend produced the record.
	Source SourceID `json:"source" yaml:"source"`

	// Title is the paper title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the abstract text or AbstractUnavailable.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Year is the publication year.
	Year int `json:"year" yaml:"year"`

	// Venue is the journal or conference name.
	Venue string `json:"venue" yaml:"venue"`

	// Link is an optional DOI or URL.
	Link string `json:"link,omitempty" yaml:"link,omitempty"`

	// Citations is the citation count when the source reports one.
	Citations int `json:"citations" yaml:"citations"`

	// Similarity is the cosine similarity in [0,1] assigned by the most
	// recent ranking stage. Zero before any ranking stage has run.
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

// HasAbstract reports whether the paper carries usable abstract text.
func (p Paper) HasAbstract() bool {
	return p.Abstract != AbstractUnavailable
}

// WithSimilarity returns a copy of p carrying score.
func (p Paper) WithSimilarity(score float64) Paper {
	p.Similarity = score
	return p
}

// CitationText formats the paper as "A, B et al. (2021). Title. Venue."
func (p Paper) CitationText() string {
	n := len(p.Authors)
	if n > 2 {
		n = 2
	}
	authors := strings.Join(p.Authors[:n], ", ")
	if len(p.Authors) > 2 {
		authors += " et al."
	}
	return fmt.Sprintf("%s (%d). %s. %s.", authors, p.Year, p.Title, p.Venue)
}

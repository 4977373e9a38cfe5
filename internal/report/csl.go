// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litfunnel/pkg/types"
)

// CSLItem represents a bibliographic entry in CSL (Citation Style Language)
// format. The field names and structure follow the CSL-JSON/CSL-YAML schema
// so that output is consumable by Pandoc and reference managers.
type CSLItem struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	Title          string    `yaml:"title"`
	Author         []CSLName `yaml:"author,omitempty"`
	Abstract       string    `yaml:"abstract,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty"`
	DOI            string    `yaml:"DOI,omitempty"`
	URL            string    `yaml:"URL,omitempty"`
	PMID           string    `yaml:"PMID,omitempty"`
}

// CSLName represents a person's name in CSL format.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate represents a date in CSL format using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

const doiPrefix = "https://doi.org/"

// FormatCSL writes the result papers as a CSL-YAML list to w.
func FormatCSL(res types.RankingResult, w io.Writer) error {
	items := make([]CSLItem, len(res.Papers))
	for i, p := range res.Papers {
		items[i] = toCSLItem(p)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

func toCSLItem(p types.Paper) CSLItem {
	item := CSLItem{
		ID:             string(p.Source) + ":" + p.ID,
		Type:           "article-journal",
		Title:          p.Title,
		ContainerTitle: p.Venue,
	}
	if p.HasAbstract() {
		item.Abstract = p.Abstract
	}

	for _, a := range p.Authors {
		item.Author = append(item.Author, parseAuthorName(a, p.Source))
	}

	if p.Year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{p.Year}}}
	}

	switch {
	case strings.HasPrefix(p.Link, doiPrefix):
		item.DOI = strings.TrimPrefix(p.Link, doiPrefix)
	case p.Link != "":
		item.URL = p.Link
	}

	switch p.Source {
	case types.SourcePubMed:
		item.PMID = p.ID
	case types.SourceArxiv:
		item.Type = "article"
		item.ContainerTitle = ""
	}
	return item
}

// parseAuthorName splits a name into CSL family/given parts. PubMed names
// are "Family I"; others are "Given Family". Single-token names use the
// literal field.
func parseAuthorName(name string, src types.SourceID) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	if src == types.SourcePubMed {
		idx := strings.LastIndex(name, " ")
		if idx < 0 {
			return CSLName{Family: name}
		}
		return CSLName{Family: name[:idx], Given: name[idx+1:]}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{
		Given:  name[:idx],
		Family: name[idx+1:],
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package keywords

import (
	"strings"

	"github.com/pdiddy/litfunnel/pkg/types"
)

const (
	fieldTitle         = "[Title]"
	fieldTitleAbstract = "[Title/Abstract]"
	flatTermLimit      = 3
)

// BuildQuery renders q in PubMed boolean syntax. Terms are restricted to
// titles when titleOnly is set, otherwise to titles and abstracts.
//
// A structured query ANDs one group per non-empty condition or method list;
// terms within a group are ORed. Population terms are left out. Without
// structure, the first three keywords are ANDed.
func BuildQuery(q types.StructuredQuery, titleOnly bool) string {
	field := fieldTitleAbstract
	if titleOnly {
		field = fieldTitle
	}

	if q.Structured {
		var groups []string
		for _, terms := range [][]string{q.Condition, q.Method} {
			if g := orGroup(terms, field); g != "" {
				groups = append(groups, g)
			}
		}
		if len(groups) > 0 {
			return strings.Join(groups, " AND ")
		}
	}

	if len(q.Keywords) == 0 {
		return `"` + DefaultTerm + `"` + fieldTitle
	}

	kws := q.Keywords
	if len(kws) > flatTermLimit {
		kws = kws[:flatTermLimit]
	}
	parts := make([]string, 0, len(kws))
	for _, k := range kws {
		parts = append(parts, quoteTerm(k, field))
	}
	return strings.Join(parts, " AND ")
}

func orGroup(terms []string, field string) string {
	var parts []string
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			parts = append(parts, quoteTerm(t, field))
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func quoteTerm(term, field string) string {
	term = strings.TrimSpace(strings.ReplaceAll(term, `"`, ""))
	return `"` + term + `"` + field
}

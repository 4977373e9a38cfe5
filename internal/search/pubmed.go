// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/litfunnel/internal/httputil"
	"github.com/pdiddy/litfunnel/internal/keywords"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// pubmedAPIBase is the NCBI E-utilities root. Declared as a var so tests
// can substitute an httptest server.
var pubmedAPIBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// NCBI allows 3 requests/s anonymously and 10 with an API key. Tests set
// both to zero.
var (
	pubmedDelay    = 340 * time.Millisecond
	pubmedKeyDelay = 100 * time.Millisecond
)

const (
	pubmedDefaultLimit = 500
	pubmedMaxLimit     = 10000
	pubmedFetchLimit   = 100
	pubmedBatchSize    = 200
	pubmedMaxAuthors   = 10
	pubmedNoTitle      = "No title"
	pubmedNoJournal    = "Unknown"
)

// PubMedBackend queries PubMed via esearch (IDs) then efetch (records).
type PubMedBackend struct {
	Client    *http.Client
	APIKey    string
	UserAgent string
}

// Name returns the backend identifier.
func (b *PubMedBackend) Name() types.SourceID { return types.SourcePubMed }

// Search runs a title/abstract boolean query and fetches full records for
// the first 100 matching PMIDs.
func (b *PubMedBackend) Search(ctx context.Context, q types.StructuredQuery, p Params) ([]types.Paper, error) {
	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}

	pmids, err := b.esearch(ctx, keywords.BuildQuery(q, false), p)
	if err != nil {
		return nil, err
	}
	if len(pmids) == 0 {
		return nil, nil
	}
	if len(pmids) > pubmedFetchLimit {
		pmids = pmids[:pubmedFetchLimit]
	}

	var papers []types.Paper
	for start := 0; start < len(pmids); start += pubmedBatchSize {
		end := min(start+pubmedBatchSize, len(pmids))
		batch, err := b.efetch(ctx, pmids[start:end])
		if err != nil {
			return nil, err
		}
		papers = append(papers, batch...)
	}
	return papers, nil
}

func (b *PubMedBackend) delay() time.Duration {
	if b.APIKey != "" {
		return pubmedKeyDelay
	}
	return pubmedDelay
}

func (b *PubMedBackend) get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	if b.APIKey != "" {
		params.Set("api_key", b.APIKey)
	}
	if err := sleepCtx(ctx, b.delay()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pubmedAPIBase+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("PubMed %s request: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("PubMed %s returned HTTP %d", endpoint, resp.StatusCode)
	}
	return resp, nil
}

func (b *PubMedBackend) esearch(ctx context.Context, term string, p Params) ([]string, error) {
	params := url.Values{
		"db":       {"pubmed"},
		"term":     {term},
		"retmax":   {strconv.Itoa(clampLimit(p.Limit, pubmedDefaultLimit, pubmedMaxLimit))},
		"sort":     {"relevance"},
		"retmode":  {"json"},
		"datetype": {"pdat"},
	}
	if p.YearMin > 0 || p.YearMax > 0 {
		minYear, maxYear := p.YearMin, p.YearMax
		if minYear <= 0 {
			minYear = 1800
		}
		if maxYear <= 0 {
			maxYear = time.Now().Year()
		}
		params.Set("mindate", fmt.Sprintf("%d/01/01", minYear))
		params.Set("maxdate", fmt.Sprintf("%d/12/31", maxYear))
	}

	resp, err := b.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr esearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing PubMed esearch response: %w", err)
	}
	if sr.Result.Error != "" {
		return nil, fmt.Errorf("PubMed esearch: %s", sr.Result.Error)
	}
	return sr.Result.IDList, nil
}

func (b *PubMedBackend) efetch(ctx context.Context, pmids []string) ([]types.Paper, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"xml"},
	}

	resp, err := b.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var set pubmedArticleSet
	if err := xml.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("parsing PubMed efetch response: %w", err)
	}

	papers := make([]types.Paper, 0, len(set.Articles))
	for _, a := range set.Articles {
		if p, ok := a.toPaper(); ok {
			papers = append(papers, p)
		}
	}
	return papers, nil
}

func (a pubmedArticle) toPaper() (types.Paper, bool) {
	c := a.Citation
	pmid := strings.TrimSpace(c.PMID)
	if pmid == "" {
		return types.Paper{}, false
	}

	p := types.Paper{
		ID:       pmid,
		Source:   types.SourcePubMed,
		Title:    strings.TrimSpace(string(c.Article.Title)),
		Venue:    strings.TrimSpace(c.Article.Journal.Title),
		Year:     c.Article.Journal.Issue.PubDate.year(),
		Abstract: c.Article.Abstract.text(),
	}
	if p.Title == "" {
		p.Title = pubmedNoTitle
	}
	if p.Venue == "" {
		p.Venue = pubmedNoJournal
	}

	for _, au := range c.Article.Authors {
		if len(p.Authors) >= pubmedMaxAuthors {
			break
		}
		if name := au.short(); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}

	for _, id := range a.Data.ArticleIDs {
		if id.IDType == "doi" {
			p.Link = doiLink(id.Value)
			break
		}
	}
	return p, true
}

// short formats an author as "Last F".
func (au pubmedAuthor) short() string {
	last := strings.TrimSpace(au.LastName)
	if last == "" {
		return ""
	}
	fore := strings.TrimSpace(au.ForeName)
	if fore == "" {
		return last
	}
	r := []rune(fore)
	return last + " " + string(r[0])
}

// text joins abstract sections, prefixing labelled ones with "LABEL: ".
func (ab pubmedAbstract) text() string {
	parts := make([]string, 0, len(ab.Sections))
	for _, s := range ab.Sections {
		body := strings.TrimSpace(string(s.Text))
		if s.Label != "" {
			parts = append(parts, s.Label+": "+body)
			continue
		}
		if body != "" {
			parts = append(parts, body)
		}
	}
	return orUnavailable(strings.Join(parts, " "))
}

// year returns the publication year from Year or the leading digits of
// MedlineDate (e.g. "2021 Jan-Feb"). Zero when neither parses.
func (d pubmedDate) year() int {
	if y, err := strconv.Atoi(strings.TrimSpace(d.Year)); err == nil {
		return y
	}
	if md := strings.TrimSpace(d.MedlineDate); len(md) >= 4 {
		if y, err := strconv.Atoi(md[:4]); err == nil {
			return y
		}
	}
	return 0
}

// E-utilities JSON and XML structures.
type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
		Error  string   `json:"ERROR"`
	} `json:"esearchresult"`
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title string `xml:"Title"`
				Issue struct {
					PubDate pubmedDate `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			Title    innerText      `xml:"ArticleTitle"`
			Abstract pubmedAbstract `xml:"Abstract"`
			Authors  []pubmedAuthor `xml:"AuthorList>Author"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
	Data struct {
		ArticleIDs []pubmedArticleID `xml:"ArticleIdList>ArticleId"`
	} `xml:"PubmedData"`
}

type pubmedDate struct {
	Year        string `xml:"Year"`
	MedlineDate string `xml:"MedlineDate"`
}

type pubmedAbstract struct {
	Sections []pubmedAbstractText `xml:"AbstractText"`
}

type pubmedAbstractText struct {
	Label string
	Text  innerText
}

// UnmarshalXML implements xml.Unmarshaler.
func (a *pubmedAbstractText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "Label" {
			a.Label = strings.TrimSpace(attr.Value)
		}
	}
	text, err := collectText(d)
	a.Text = innerText(text)
	return err
}

type pubmedAuthor struct {
	LastName string `xml:"LastName"`
	ForeName string `xml:"ForeName"`
}

type pubmedArticleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

// innerText collects all character data of an element, including text
// inside inline markup such as <i> or <sup>.
type innerText string

// UnmarshalXML implements xml.Unmarshaler.
func (t *innerText) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	text, err := collectText(d)
	*t = innerText(text)
	return err
}

// collectText reads tokens up to the end of the current element and
// returns its character data with whitespace collapsed.
func collectText(d *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch v := tok.(type) {
		case xml.CharData:
			b.Write(v)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return strings.Join(strings.Fields(b.String()), " "), nil
			}
			depth--
		}
	}
}

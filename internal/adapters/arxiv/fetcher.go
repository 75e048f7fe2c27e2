// Package arxiv resolves arXiv references into paper metadata by
// scraping the abstract page's citation meta tags.
package arxiv

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

const defaultBaseURL = "https://arxiv.org"

var (
	absExpr  = regexp.MustCompile(`arxiv\.org/abs/(\d+\.\d+)`)
	pdfExpr  = regexp.MustCompile(`arxiv\.org/pdf/(\d+\.\d+)`)
	bareExpr = regexp.MustCompile(`(\d{4}\.\d{4,5})`)
)

// ExtractID pulls the arXiv identifier out of a free-form reference:
// an abs URL, a pdf URL, or a bare ID anywhere in the text.
func ExtractID(reference string) string {
	for _, expr := range []*regexp.Regexp{absExpr, pdfExpr, bareExpr} {
		if m := expr.FindStringSubmatch(reference); m != nil {
			return m[1]
		}
	}
	return ""
}

// Fetcher implements core.MetadataFetcher against arXiv abstract pages.
type Fetcher struct {
	client  *http.Client
	baseURL string
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithBaseURL overrides the arXiv base URL, for tests.
func WithBaseURL(u string) Option {
	return func(f *Fetcher) { f.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a fetcher with a 20 second timeout by default.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves the source reference into paper metadata.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*core.PaperMetadata, error) {
	id := ExtractID(source)
	if id == "" {
		return nil, core.ErrValidation(core.CodeSourceInvalid,
			fmt.Sprintf("no arXiv identifier found in %q", source))
	}

	doc, err := f.fetchDocument(ctx, f.baseURL+"/abs/"+id)
	if err != nil {
		return nil, err
	}

	meta := parseAbsPage(doc)
	if meta.PDFURL == "" {
		meta.PDFURL = f.baseURL + "/pdf/" + id
	}
	if meta.Title == "" {
		return nil, core.ErrExtraction(core.CodeParseFailed,
			fmt.Sprintf("abstract page for %s has no title", id))
	}
	return meta, nil
}

func (f *Fetcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, core.ErrExtraction("REQUEST_FAILED", "building request").WithCause(err)
	}
	req.Header.Set("User-Agent", "paperflow/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, core.ErrExtraction("REQUEST_FAILED", "requesting abstract page").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.ErrExtraction(core.CodeUpstreamStatus,
			fmt.Sprintf("arxiv returned %s for %s", resp.Status, pageURL))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, core.ErrExtraction(core.CodeParseFailed, "parsing abstract page").WithCause(err)
	}
	return doc, nil
}

// parseAbsPage reads the citation meta tags arXiv emits for indexers,
// falling back to the visible abstract blockquote when og:description
// is absent.
func parseAbsPage(doc *goquery.Document) *core.PaperMetadata {
	meta := &core.PaperMetadata{}

	meta.Title = metaContent(doc, "citation_title")
	doc.Find(`meta[name="citation_author"]`).Each(func(_ int, s *goquery.Selection) {
		if author, ok := s.Attr("content"); ok && strings.TrimSpace(author) != "" {
			meta.Authors = append(meta.Authors, strings.TrimSpace(author))
		}
	})
	meta.PDFURL = metaContent(doc, "citation_pdf_url")

	if date := metaContent(doc, "citation_date"); len(date) >= 4 {
		if year, err := strconv.Atoi(date[:4]); err == nil {
			meta.Year = year
		}
	}

	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		meta.Abstract = strings.TrimSpace(desc)
	}
	if meta.Abstract == "" {
		abstract := doc.Find("blockquote.abstract").First().Text()
		abstract = strings.TrimPrefix(strings.TrimSpace(abstract), "Abstract:")
		meta.Abstract = strings.TrimSpace(abstract)
	}

	return meta
}

func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(`meta[name="` + name + `"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

var _ core.MetadataFetcher = (*Fetcher)(nil)

package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/internal/types"
)

// TextExtractor handles plain-text and markdown uploads. A form feed marks
// a page break; most files are a single page.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Extract(path string) ([]models.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var pages []models.Page
	for i, text := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, models.Page{Text: text, Number: i + 1})
	}
	return pages, nil
}

type HTMLExtractorConfig struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second for remote fetches
	Selectors []string
}

// HTMLExtractor extracts the main content of an HTML document, from a local
// file or a URL. Remote fetches are rate limited.
type HTMLExtractor struct {
	config  HTMLExtractorConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTMLExtractor(config HTMLExtractorConfig) *HTMLExtractor {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.Selectors) == 0 {
		config.Selectors = []string{
			"main",
			"article",
			".content",
			"#content",
		}
	}

	return &HTMLExtractor{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func (e *HTMLExtractor) Extract(path string) ([]models.Page, error) {
	body, err := e.open(path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	content := e.mainContent(doc)
	if content == "" {
		return nil, nil
	}

	return []models.Page{{Text: content, Number: 1}}, nil
}

func (e *HTMLExtractor) open(path string) (io.ReadCloser, error) {
	if !isRemote(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return f, nil
	}

	if err := e.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}

	resp, err := e.client.Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, path)
	}
	return resp.Body, nil
}

func (e *HTMLExtractor) mainContent(doc *goquery.Document) string {
	var content string
	for _, selector := range e.config.Selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

// cleanContent collapses runs of spaces while keeping line structure, so
// the splitter still sees paragraph breaks.
func cleanContent(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// unsupportedExtractor fails extraction for document types no extractor
// handles, instead of letting raw bytes through as chunk text.
type unsupportedExtractor struct {
	ext string
}

func (e unsupportedExtractor) Extract(path string) ([]models.Page, error) {
	return nil, fmt.Errorf("unsupported document type %q: %s", e.ext, path)
}

// ForPath picks an extractor for an upload based on its extension, or an
// HTML extractor for URLs. Unknown binary formats are rejected at
// extraction time rather than ingested as garbage.
func ForPath(path string) types.Extractor {
	if isRemote(path) {
		return NewHTMLExtractor(HTMLExtractorConfig{})
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return NewPDFExtractor()
	case ".html", ".htm":
		return NewHTMLExtractor(HTMLExtractorConfig{})
	case ".txt", ".md", ".markdown", ".text", "":
		return NewTextExtractor()
	default:
		return unsupportedExtractor{ext: ext}
	}
}

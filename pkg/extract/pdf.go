package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/lichenchen/pharmaquery/internal/models"
)

// PDFExtractor pulls plain text out of a PDF page by page. Pages keep their
// native numbering; pages with no extractable text are dropped.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) Extract(path string) ([]models.Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var pages []models.Page
	for num := 1; num <= reader.NumPage(); num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d of %s: %w", num, path, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, models.Page{Text: text, Number: num})
	}
	return pages, nil
}

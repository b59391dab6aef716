package extract

import (
	"fmt"

	"github.com/dslipak/pdf"
)

// PDFPage is the extracted plain text of a single page.
type PDFPage struct {
	Index int
	Text  string
}

// PDFPages extracts per-page plain text from a PDF file. Pages with no
// extractable text (e.g. scanned images) are returned with an empty Text
// rather than skipped, so callers can still account for the page.
func PDFPages(path string) ([]PDFPage, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}

	pages := make([]PDFPage, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, PDFPage{Index: i - 1})
			continue
		}
		text, terr := page.GetPlainText(nil)
		if terr != nil {
			pages = append(pages, PDFPage{Index: i - 1})
			continue
		}
		pages = append(pages, PDFPage{Index: i - 1, Text: text})
	}
	return pages, nil
}

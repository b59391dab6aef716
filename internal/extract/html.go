package extract

import (
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

// Article is the readable main-content extraction of an HTML page.
type Article struct {
	Title string
	Text  string
}

// HTML extracts the main article content from an HTML document. When
// readability can't find a main article (e.g. short snippets, non-article
// pages), Text is the HTML input unchanged, markup included.
func HTML(html, pageURL string) (Article, error) {
	base, _ := url.Parse(pageURL)

	art, err := readability.FromReader(strings.NewReader(html), base)
	if err == nil && strings.TrimSpace(art.TextContent) != "" {
		return Article{Title: strings.TrimSpace(art.Title), Text: art.TextContent}, nil
	}

	return Article{Text: html}, nil
}

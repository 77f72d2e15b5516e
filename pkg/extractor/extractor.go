package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"

	"github.com/amosWeiskopf/sitesnap/internal/models"
)

// Extractor pulls resource references and readable text out of HTML
type Extractor struct{}

// New creates a new Extractor instance
func New() *Extractor {
	return &Extractor{}
}

// Parse builds a navigable document from raw markup
func (e *Extractor) Parse(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Extract collects stylesheet hrefs, script srcs and image srcs in
// document order. Values are returned raw: empty and malformed
// references are kept for the resolver to reject.
func (e *Extractor) Extract(doc *goquery.Document) models.ReferenceSet {
	refs := models.ReferenceSet{
		Stylesheets: []string{},
		Scripts:     []string{},
		Images:      []string{},
	}
	if doc == nil {
		return refs
	}

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if !isStylesheet(s.AttrOr("rel", "")) {
			return
		}
		refs.Stylesheets = append(refs.Stylesheets, s.AttrOr("href", ""))
	})

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		refs.Scripts = append(refs.Scripts, s.AttrOr("src", ""))
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		refs.Images = append(refs.Images, s.AttrOr("src", ""))
	})

	return refs
}

// ExtractText extracts clean text from HTML using trafilatura, falling back
// to concatenated text nodes when trafilatura finds no main content.
func (e *Extractor) ExtractText(raw []byte) (string, error) {
	result, err := trafilatura.Extract(bytes.NewReader(raw), trafilatura.Options{})
	if err == nil && result != nil && strings.TrimSpace(result.ContentText) != "" {
		return result.ContentText, nil
	}
	return fallbackText(raw)
}

func fallbackText(raw []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, "\n"), nil
}

func isStylesheet(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "stylesheet" {
			return true
		}
	}
	return false
}

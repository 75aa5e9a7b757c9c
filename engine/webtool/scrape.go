package webtool

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultMaxTextLen = 10000
	maxLinks          = 50
)

// PageOpts controls what ScrapePage extracts.
type PageOpts struct {
	// Selector narrows text extraction to matching elements. Empty means
	// the whole body.
	Selector string
	// Links and Images toggle collection of anchors and images.
	Links  bool
	Images bool
	// MaxTextLen caps the extracted text in runes. 0 means the default.
	MaxTextLen int
}

// Link is one anchor found on a page, href resolved against the page URL.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Image is one image found on a page.
type Image struct {
	Alt string `json:"alt"`
	Src string `json:"src"`
}

// Page is the extracted view of a fetched page.
type Page struct {
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Text        string  `json:"text"`
	Links       []Link  `json:"links,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// ScrapePage fetches a URL and extracts readable text, metadata, and
// optionally links and images. With a selector that matches nothing it
// returns an error rather than silently empty text.
func (c *Client) ScrapePage(ctx context.Context, rawURL string, opts PageOpts) (*Page, error) {
	resp, err := c.Call(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webtool: GET %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("webtool: parse %s: %w", rawURL, err)
	}
	doc.Find("script, style, noscript").Remove()

	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, fmt.Errorf("webtool: parse final url %q: %w", resp.URL, err)
	}

	page := &Page{
		URL:         resp.URL,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: pageDescription(doc),
	}

	scope := doc.Selection
	if opts.Selector != "" {
		scope = doc.Find(opts.Selector)
		if scope.Length() == 0 {
			return nil, fmt.Errorf("webtool: selector %q matched nothing on %s", opts.Selector, resp.URL)
		}
	}

	maxLen := opts.MaxTextLen
	if maxLen <= 0 {
		maxLen = defaultMaxTextLen
	}
	page.Text = truncateRunes(collapseSpace(scope.Text()), maxLen)

	if opts.Links {
		scope.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil || ref.String() == "" {
				return true
			}
			page.Links = append(page.Links, Link{
				Text: collapseSpace(s.Text()),
				Href: base.ResolveReference(ref).String(),
			})
			return len(page.Links) < maxLinks
		})
	}
	if opts.Images {
		scope.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, _ := s.Attr("src")
			ref, err := url.Parse(strings.TrimSpace(src))
			if err != nil || ref.String() == "" {
				return true
			}
			alt, _ := s.Attr("alt")
			page.Images = append(page.Images, Image{
				Alt: strings.TrimSpace(alt),
				Src: base.ResolveReference(ref).String(),
			})
			return len(page.Images) < maxLinks
		})
	}
	return page, nil
}

// pageDescription prefers the meta description, falling back to OpenGraph.
func pageDescription(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && v != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

package scanner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/sentinel-go/pkg/httpclient"
)

const (
	maxHTMLBodyBytes      = 1 << 20 // 1 MiB
	defaultExtractTimeout = 15 * time.Second
	extractorUserAgent    = "sentinel-scanner/1.0"
)

// Extractor fetches pages and reduces them to the visible text worth scanning.
type Extractor struct {
	client httpclient.Client
}

// NewExtractor constructs an extractor with the provided HTTP client (or default).
func NewExtractor(client httpclient.Client) *Extractor {
	if client == nil {
		client = httpclient.NewRestyClient(defaultExtractTimeout)
	}
	return &Extractor{client: client}
}

// Extract returns the title, description and body text of the page at url.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	resp, err := e.client.Get(ctx, url, map[string]string{
		"User-Agent": extractorUserAgent,
		"Accept":     "text/html,application/xhtml+xml",
	})
	if err != nil {
		return "", fmt.Errorf("http fetch: %w", err)
	}

	if !httpclient.IsSuccess(resp.StatusCode()) {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return "", fmt.Errorf("status %d body: %s", resp.StatusCode(), snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	page, err := parsePage(body)
	if err != nil {
		return "", err
	}
	text := page.String()
	if text == "" {
		return "", fmt.Errorf("no text extracted from %s", url)
	}
	return text, nil
}

type pageText struct {
	Title       string
	Description string
	Body        string
}

func (p pageText) String() string {
	parts := make([]string, 0, 3)
	for _, v := range []string{p.Title, p.Description, p.Body} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n")
}

func parsePage(body []byte) (pageText, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageText{}, fmt.Errorf("parse html: %w", err)
	}

	meta := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	pt := pageText{
		Title: firstNonEmpty(
			strings.TrimSpace(doc.Find("title").First().Text()),
			meta(`meta[property="og:title"]`),
		),
		Description: firstNonEmpty(
			meta(`meta[name="description"]`),
			meta(`meta[property="og:description"]`),
		),
	}

	bodySel := doc.Find("body")
	bodySel.Find("script, style, noscript, template").Remove()
	pt.Body = collapseWhitespace(bodySel.Text())

	return pt, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

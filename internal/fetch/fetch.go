// Package fetch retrieves pages and extracts the signals the analyzer
// scores. Extraction is intentionally shallow: tags and counts, no content
// heuristics.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/pagelift/pagelift/internal/fault"
)

// Page carries the extracted signals of a fetched page.
type Page struct {
	URL                  string `json:"url"`
	Domain               string `json:"domain"`
	HTTPS                bool   `json:"https"`
	Title                string `json:"title"`
	MetaDescription      string `json:"metaDescription"`
	H1Count              int    `json:"h1Count"`
	ImageCount           int    `json:"imageCount"`
	ImagesMissingAlt     int    `json:"imagesMissingAlt"`
	InternalLinks        int    `json:"internalLinks"`
	ExternalLinks        int    `json:"externalLinks"`
	HasViewport          bool   `json:"hasViewport"`
	HasCanonical         bool   `json:"hasCanonical"`
	StructuredDataBlocks int    `json:"structuredDataBlocks"`
	InsecureResources    int    `json:"insecureResources"`
	FetchMillis          int64  `json:"fetchMillis"`
	Text                 string `json:"-"`
	TextLength           int    `json:"textLength"`
}

// maxBodyBytes bounds how much of a response body is read; larger pages are
// rejected as fetch faults rather than analyzed partially.
const maxBodyBytes = 5 << 20

// Client fetches pages over HTTP with a hard per-request timeout.
type Client struct {
	client    *http.Client
	userAgent string
}

// New wires an HTTP client; timeout defaults to 20s.
func New(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if userAgent == "" {
		userAgent = "pagelift/1.0"
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// NormalizeDomain validates that raw is an absolute http(s) URL and returns
// its registrable domain (eTLD+1), falling back to the bare hostname for
// hosts outside the public suffix list.
func NormalizeDomain(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fault.Wrap(fault.Validation, err, "url is not well-formed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fault.Errorf(fault.Validation, "url must be absolute http or https, got %q", raw)
	}
	host := u.Hostname()
	if host == "" {
		return "", fault.Errorf(fault.Validation, "url %q has no host", raw)
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registrable = host
	}
	return strings.ToLower(registrable), nil
}

// FetchPage retrieves pageURL and extracts its signals. Failures are
// classified as fetch faults so callers retry them.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (Page, error) {
	domain, err := NormalizeDomain(pageURL)
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fault.Wrap(fault.Fetch, err, "build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Page{}, fault.Wrap(fault.Fetch, err, fmt.Sprintf("fetch %s", pageURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fault.Errorf(fault.Fetch, "fetch %s: server returned %s", pageURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Page{}, fault.Wrap(fault.Fetch, err, fmt.Sprintf("read %s", pageURL))
	}
	if len(body) > maxBodyBytes {
		return Page{}, fault.Errorf(fault.Fetch, "fetch %s: body exceeds %d bytes", pageURL, maxBodyBytes)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fault.Wrap(fault.Fetch, err, "parse document")
	}

	p := extractPage(doc, pageURL, domain)
	p.FetchMillis = time.Since(start).Milliseconds()
	return p, nil
}

func extractPage(doc *goquery.Document, pageURL, domain string) Page {
	p := Page{
		URL:    pageURL,
		Domain: domain,
		HTTPS:  strings.HasPrefix(pageURL, "https://"),
	}

	p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	p.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	p.H1Count = doc.Find("h1").Length()
	p.HasViewport = doc.Find(`meta[name="viewport"]`).Length() > 0
	p.HasCanonical = doc.Find(`link[rel="canonical"]`).Length() > 0
	p.StructuredDataBlocks = doc.Find(`script[type="application/ld+json"]`).Length()

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		p.ImageCount++
		if alt, ok := img.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			p.ImagesMissingAlt++
		}
	})

	doc.Find("img[src], script[src], link[href]").Each(func(_ int, s *goquery.Selection) {
		ref := s.AttrOr("src", s.AttrOr("href", ""))
		if strings.HasPrefix(strings.TrimSpace(ref), "http://") {
			p.InsecureResources++
		}
	})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		link, err := url.Parse(href)
		if err != nil {
			return
		}
		host := strings.ToLower(link.Hostname())
		if link.Host == "" || host == domain || strings.HasSuffix(host, "."+domain) {
			p.InternalLinks++
		} else {
			p.ExternalLinks++
		}
	})

	p.Text = collapseWhitespace(doc.Find("body").Text())
	p.TextLength = len(p.Text)
	return p
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

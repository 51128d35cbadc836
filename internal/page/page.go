package page

import (
	"context"
	"errors"
	"fmt"
	"gallery/internal/domain"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotParsed is returned by Find when the page holds no parsed document.
var ErrNotParsed = errors.New("page: no parsed document")

// Page is the short-lived handle for the page currently being scraped.
// A Page is not safe for concurrent use; create one per fetch.
type Page struct {
	client *Client

	url     string
	status  int
	headers map[string]string
	body    []byte
	doc     *goquery.Document
}

// FetchCollection waits for the inter-request delay, then loads an index
// page. The page is rendered in a browser when the client has a renderer.
func (p *Page) FetchCollection(ctx context.Context, url string, delay time.Duration) (int, error) {
	if err := p.client.throttle(ctx, delay); err != nil {
		return 0, err
	}
	if p.client.renderer == nil {
		return p.FetchBody(ctx, url)
	}

	start := time.Now()
	html, err := p.client.renderer.Render(ctx, url)
	if err != nil {
		p.client.observe("render", 0, start)
		return 0, fmt.Errorf("render %s: %w", url, err)
	}
	p.client.observe("render", http.StatusOK, start)

	p.url = url
	p.status = http.StatusOK
	p.headers = map[string]string{"Content-Type": "text/html; charset=utf-8"}
	p.body = []byte(html)
	if err := p.parse(); err != nil {
		return p.status, err
	}
	return p.status, nil
}

// FetchBody GETs url, keeps status, headers and body, and parses the body
// when the response is 200 and looks like markup.
func (p *Page) FetchBody(ctx context.Context, url string) (int, error) {
	start := time.Now()
	resp, err := p.client.request(ctx).Get(url)
	if err != nil {
		p.client.observe("body", 0, start)
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	p.client.observe("body", resp.StatusCode(), start)
	p.keep(url, resp)
	p.body = resp.Body()

	p.client.logger.Debug("fetched page",
		zap.String("url", url),
		zap.Int("status", p.status),
		zap.Int("bytes", len(p.body)),
	)

	if p.status == http.StatusOK && isMarkup(p.headers["Content-Type"]) {
		if err := p.parse(); err != nil {
			return p.status, err
		}
	}
	return p.status, nil
}

// FetchHeaders issues a HEAD request and keeps only status and headers.
// FetchContent then downloads the body of the same URL.
func (p *Page) FetchHeaders(ctx context.Context, url string) (int, error) {
	start := time.Now()
	resp, err := p.client.request(ctx).Head(url)
	if err != nil {
		p.client.observe("headers", 0, start)
		return 0, fmt.Errorf("head %s: %w", url, err)
	}
	p.client.observe("headers", resp.StatusCode(), start)
	p.keep(url, resp)
	p.body = nil
	return p.status, nil
}

// FetchContent downloads the body of the URL given to the last FetchHeaders.
// Headers from the GET response replace the HEAD ones.
func (p *Page) FetchContent(ctx context.Context) (int, error) {
	if p.url == "" {
		return 0, errors.New("page: FetchContent called before FetchHeaders")
	}
	start := time.Now()
	resp, err := p.client.request(ctx).Get(p.url)
	if err != nil {
		p.client.observe("content", 0, start)
		return 0, fmt.Errorf("get %s: %w", p.url, err)
	}
	p.client.observe("content", resp.StatusCode(), start)
	p.keep(p.url, resp)
	p.body = resp.Body()
	return p.status, nil
}

// Find runs sel against the parsed document. With multiple unset only the
// first match is returned. An empty selection means nothing matched.
func (p *Page) Find(sel domain.Selector, multiple bool) (*goquery.Selection, error) {
	if p.doc == nil {
		return nil, ErrNotParsed
	}

	var found *goquery.Selection
	if isXPath(sel.Tag) {
		nodes, err := htmlquery.QueryAll(p.doc.Get(0), sel.Tag)
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", sel.Tag, err)
		}
		found = p.doc.FindNodes(nodes...)
		if len(sel.Attrs) > 0 {
			found = found.Filter(attrSelector("*", sel.Attrs))
		}
	} else {
		found = p.doc.Find(CSS(sel))
	}

	if !multiple {
		return found.First(), nil
	}
	return found, nil
}

// URL returns the address of the last fetch.
func (p *Page) URL() string { return p.url }

// Status returns the HTTP status of the last fetch, 0 before any fetch.
func (p *Page) Status() int { return p.status }

// Body returns the raw bytes of the last response body.
func (p *Page) Body() []byte { return p.body }

// Headers returns a copy of the last response headers, one value per
// canonical key.
func (p *Page) Headers() map[string]string {
	out := make(map[string]string, len(p.headers))
	for k, v := range p.headers {
		out[k] = v
	}
	return out
}

// Document returns the parsed document, nil when the body was not parsed.
func (p *Page) Document() *goquery.Document { return p.doc }

func (p *Page) keep(url string, resp *resty.Response) {
	p.url = url
	p.status = resp.StatusCode()
	p.doc = nil
	p.headers = make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			p.headers[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
}

func (p *Page) parse() error {
	doc, err := goquery.NewDocumentFromReader(utf8Reader(p.body, p.headers["Content-Type"]))
	if err != nil {
		return fmt.Errorf("parse %s: %w", p.url, err)
	}
	p.doc = doc
	return nil
}

// CSS renders a selector as a CSS expression. The class attribute matches
// any one of the element's classes, other attributes match exactly.
func CSS(sel domain.Selector) string {
	tag := sel.Tag
	if tag == "" {
		tag = "*"
	}
	return attrSelector(tag, sel.Attrs)
}

func attrSelector(tag string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tag)
	for _, k := range keys {
		op := "="
		if k == "class" {
			op = "~="
		}
		fmt.Fprintf(&b, `[%s%s"%s"]`, k, op, escapeCSS(attrs[k]))
	}
	return b.String()
}

func escapeCSS(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

func isXPath(tag string) bool {
	return strings.HasPrefix(tag, "/") || strings.HasPrefix(tag, "(")
}

func isMarkup(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html") || strings.Contains(ct, "xml")
}

// NewDocument parses raw markup with the same charset handling pages use.
// Tests and offline tools build fragments with it.
func NewDocument(markup []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(utf8Reader(markup, ""))
}

package fetch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"time"

	"opencalls/internal/metrics"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0"
)

// StaticOptions configures a Static fetcher. Zero values take the defaults.
type StaticOptions struct {
	Timeout   time.Duration
	UserAgent string
	// Headers are sent on every request; per-call headers override them.
	Headers map[string]string
}

// Static fetches pages with a plain GET. It never retries.
type Static struct {
	client *resty.Client
}

var _ Fetcher = (*Static)(nil)

func NewStatic(opts StaticOptions) *Static {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", ua)
	client.SetHeaders(opts.Headers)
	return &Static{client: client}
}

// Fetch GETs url and parses the body as HTML after transcoding it to UTF-8.
// Any non-2xx status is a *FetchError and no document is returned.
func (s *Static) Fetch(ctx context.Context, url string, headers map[string]string) (*goquery.Document, error) {
	start := time.Now()
	res, err := s.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(url)
	if err != nil {
		metrics.RecordHTTP(0, time.Since(start))
		return nil, &FetchError{URL: url, Cause: err}
	}
	metrics.RecordHTTP(res.StatusCode(), time.Since(start))

	if !res.IsSuccess() {
		return nil, &FetchError{URL: url, Status: res.StatusCode()}
	}

	doc, err := decodeDocument(res.Body(), res.Header().Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{URL: url, Status: res.StatusCode(), Cause: err}
	}
	return doc, nil
}

// decodeDocument sniffs the body encoding from the Content-Type header, a
// BOM or a <meta> charset and parses the UTF-8 text.
func decodeDocument(body []byte, contentType string) (*goquery.Document, error) {
	r := bufio.NewReader(bytes.NewReader(body))
	peek, _ := r.Peek(1024)

	e, _, _ := charset.DetermineEncoding(peek, contentType)
	doc, err := goquery.NewDocumentFromReader(transform.NewReader(r, e.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

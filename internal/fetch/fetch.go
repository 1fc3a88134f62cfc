// Package fetch provides the two page transports used by the source adapters:
// Static (plain HTTP GET via resty) and Session (a headless Chrome driven by
// chromedp). Both return parsed goquery documents.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// ErrRenderTimeout reports that a rendered page never showed its readiness
// marker within the wait window.
var ErrRenderTimeout = errors.New("render timeout: marker not present")

// FetchError is a failed page retrieval. Status is the HTTP status when a
// response was received, 0 otherwise.
type FetchError struct {
	URL    string
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	switch {
	case e.Cause != nil && e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
	default:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Fetcher retrieves and parses a static page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (*goquery.Document, error)
}

// Renderer loads a page in a browser and returns its DOM once marker (a CSS
// selector) is present.
type Renderer interface {
	Render(ctx context.Context, url, marker string) (*goquery.Document, error)
	Close() error
}

package sources

import (
	"context"
	"errors"
	"sync"
	"time"

	"opencalls/internal/extracthtml"
	"opencalls/internal/fetch"

	"github.com/PuerkitoBio/goquery"
)

// fakeFetcher serves canned HTML by URL. Unknown URLs return a 404 FetchError.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
	// at holds the time of each call, aligned with calls.
	at []time.Time
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ map[string]string) (*goquery.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.at = append(f.at, time.Now())
	f.mu.Unlock()

	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, &fetch.FetchError{URL: url, Status: 404}
	}
	return extracthtml.ParseString(body)
}

type fakeRenderer struct {
	body   string
	err    error
	closed bool
	calls  []string
}

func (r *fakeRenderer) Render(_ context.Context, url, marker string) (*goquery.Document, error) {
	r.calls = append(r.calls, url+" "+marker)
	if r.err != nil {
		return nil, r.err
	}
	return extracthtml.ParseString(r.body)
}

func (r *fakeRenderer) Close() error {
	r.closed = true
	return nil
}

func timeoutErr(url string) error {
	return &fetch.FetchError{URL: url, Cause: context.DeadlineExceeded}
}

var errBoom = errors.New("boom")

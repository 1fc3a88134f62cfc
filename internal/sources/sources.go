// Package sources holds one adapter per open-call site. Each adapter walks its
// listing pages (and detail pages where the site needs them), applies a fixed
// FieldMap and returns a record.Set in traversal order.
package sources

import (
	"context"
	"fmt"
	"sort"
	"time"

	"opencalls/internal/extracthtml"
	"opencalls/internal/fetch"
	"opencalls/internal/metrics"
	"opencalls/internal/record"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Adapter crawls one site.
type Adapter interface {
	Name() string
	// Columns is the output column order.
	Columns() []string
	// Output is the default CSV file name.
	Output() string
	// NeedsRenderer reports whether Crawl requires Env.Renderer.
	NeedsRenderer() bool
	Crawl(ctx context.Context, env Env) (*record.Set, error)
}

// Env is what an adapter needs to run.
type Env struct {
	Fetcher  fetch.Fetcher
	Renderer fetch.Renderer
	Logger   *zap.Logger
	// Delay is the pause before every detail-page fetch.
	Delay time.Duration
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Override replaces an adapter's built-in URL or page range. Zero fields keep
// the built-in values.
type Override struct {
	URL       string
	FirstPage *int
	LastPage  *int
}

func (o Override) url(def string) string {
	if o.URL != "" {
		return o.URL
	}
	return def
}

func (o Override) pages(first, last int) (int, int) {
	if o.FirstPage != nil {
		first = *o.FirstPage
	}
	if o.LastPage != nil {
		last = *o.LastPage
	}
	return first, last
}

type constructor func(Override) Adapter

// order is the fixed run order.
var order = []string{
	ArtRabbitName,
	TransArtistsName,
	ResArtisName,
	CuratorSpaceName,
	ArtistCommunitiesName,
}

var registry = map[string]constructor{
	ArtRabbitName:         func(o Override) Adapter { return NewArtRabbit(o) },
	TransArtistsName:      func(o Override) Adapter { return NewTransArtists(o) },
	ResArtisName:          func(o Override) Adapter { return NewResArtis(o) },
	CuratorSpaceName:      func(o Override) Adapter { return NewCuratorSpace(o) },
	ArtistCommunitiesName: func(o Override) Adapter { return NewArtistCommunities(o) },
}

// Names returns every adapter name in run order.
func Names() []string {
	return append([]string(nil), order...)
}

// New builds the named adapter.
func New(name string, o Override) (Adapter, error) {
	c, ok := registry[name]
	if !ok {
		known := Names()
		sort.Strings(known)
		return nil, fmt.Errorf("unknown source %q (known: %v)", name, known)
	}
	return c(o), nil
}

// All builds every adapter in run order; overrides are keyed by name.
func All(overrides map[string]Override) []Adapter {
	out := make([]Adapter, 0, len(order))
	for _, name := range order {
		out = append(out, registry[name](overrides[name]))
	}
	return out
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fetchPages fetches each listing URL in order and hands the document to fn.
// A failed page is logged and skipped; only context cancellation stops the
// walk.
func fetchPages(ctx context.Context, env Env, source string, urls []string, fn func(pageURL string, doc *goquery.Document)) error {
	log := env.logger()
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info("fetching listing page", zap.String("source", source), zap.Int("page", i+1), zap.Int("pages", len(urls)), zap.String("url", u))
		doc, err := env.Fetcher.Fetch(ctx, u, nil)
		if err != nil {
			metrics.RecordPage(source, metrics.StatusError)
			log.Warn("listing page failed, skipping", zap.String("source", source), zap.String("url", u), zap.Error(err))
			continue
		}
		metrics.RecordPage(source, metrics.StatusOK)
		fn(u, doc)
	}
	return ctx.Err()
}

// fetchDetail waits env.Delay and then fetches a detail page.
func fetchDetail(ctx context.Context, env Env, url string) (*goquery.Document, error) {
	if err := sleep(ctx, env.Delay); err != nil {
		return nil, err
	}
	return env.Fetcher.Fetch(ctx, url, nil)
}

// appendItems extracts one record per itemSelector match and appends those
// accepted by keep (nil keeps all).
func appendItems(set *record.Set, doc *goquery.Document, itemSelector string, fm extracthtml.FieldMap, keep func(*goquery.Selection) bool) {
	doc.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		if keep != nil && !keep(item) {
			metrics.RecordItem(set.Source, metrics.StatusSkipped)
			return
		}
		set.Append(extracthtml.ExtractRecord(item, fm))
		metrics.RecordItem(set.Source, metrics.StatusOK)
	})
}

package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"opencalls/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// quietOptions returns options whose ticker never fires during a test.
func quietOptions(fs *fakeSubmitter, unix int64) Options {
	return Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(unix, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestKeyFor verifies label projection and the unknown-value default.
func TestKeyFor(t *testing.T) {
	t.Parallel()

	k, kind, ok := keyFor(metrics.PagesTotal, metrics.Labels{"source": "transartists", "status": "ok", "extra": "dropped"})
	if !ok || kind != kindCounter {
		t.Fatalf("keyFor pages: ok=%v kind=%v", ok, kind)
	}
	if k.metric != "opencalls.pages.total" {
		t.Fatalf("metric=%q", k.metric)
	}
	if got := splitTags(k.tags); !reflect.DeepEqual(got, []string{"source:transartists", "status:ok"}) {
		t.Fatalf("tags=%v", got)
	}

	k, _, _ = keyFor(metrics.HTTPRequestsTotal, nil)
	if got := splitTags(k.tags); !reflect.DeepEqual(got, []string{"status:unknown"}) {
		t.Fatalf("default tags=%v", got)
	}

	if _, _, ok := keyFor("unknown_total", nil); ok {
		t.Fatalf("unknown metric should not resolve")
	}
}

// TestWithTags verifies tag concatenation and immutability.
func TestWithTags(t *testing.T) {
	t.Parallel()

	base := []string{"env:test", "job:opencalls"}
	got := withTags(base, "source:artrabbit", "status:ok")
	want := []string{"env:test", "job:opencalls", "source:artrabbit", "status:ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] == "env:mutated" {
		t.Fatalf("withTags output aliases base slice")
	}
}

// TestPercentileNearestRank verifies percentile behavior.
func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
			t.Fatalf("%s: percentileNearestRank(%v,%v)=%v, want %v", tc.name, tc.s, tc.p, got, tc.want)
		}
	}
}

// TestAddPercentiles verifies the gauge set and that input is not mutated.
func TestAddPercentiles(t *testing.T) {
	t.Parallel()

	samples := []float64{3, 1, 2}
	var series []datadogV2.MetricSeries
	addPercentiles(&series, []string{"status:200"}, "x.dur", samples, 99)

	if len(series) != 6 {
		t.Fatalf("series=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(samples, []float64{3, 1, 2}) {
		t.Fatalf("samples mutated: %v", samples)
	}
	byName := map[string]float64{}
	for _, s := range series {
		if s.Type == nil || *s.Type != datadogV2.METRICINTAKETYPE_GAUGE {
			t.Fatalf("%s: want GAUGE", s.Metric)
		}
		if *s.Points[0].Timestamp != 99 {
			t.Fatalf("%s: timestamp=%d", s.Metric, *s.Points[0].Timestamp)
		}
		byName[s.Metric] = *s.Points[0].Value
	}
	if byName["x.dur.max"] != 3 || byName["x.dur.samples"] != 3 || byName["x.dur.p50"] != 2 {
		t.Fatalf("unexpected values: %v", byName)
	}

	addPercentiles(&series, nil, "y", nil, 0)
	if len(series) != 6 {
		t.Fatalf("empty samples should add nothing")
	}
}

// TestNewBackend_Defaults verifies job and flush defaults.
func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		submitter: fs,
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:opencalls") || !contains(b.baseTags, "team:data") {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_SubmitsAndResets verifies Flush submits buffered metrics in a
// stable order and resets buffers.
func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.PagesTotal, 2, metrics.Labels{"source": "transartists", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"source": "artrabbit"})
	b.IncCounter(metrics.HTTPRequestsTotal, 7, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.HTTPRequestDuration, 0.1, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.SourceDuration, 4, metrics.Labels{"source": "resartis", "status": "error"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.counters) != 0 || len(b.samples) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	var names []string
	for _, s := range payload.Series {
		names = append(names, s.Metric)
	}
	if len(names) != 3+12 {
		t.Fatalf("series=%d: %v", len(names), names)
	}
	counters := names[:3]
	if !sort.StringsAreSorted(counters) {
		t.Fatalf("counter series not sorted: %v", counters)
	}
	for _, w := range []string{
		"opencalls.pages.total",
		"opencalls.records.total",
		"opencalls.http.requests.total",
		"opencalls.http.request_duration_seconds.p50",
		"opencalls.source.duration_seconds.samples",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing %q; got=%v", w, names)
		}
	}
	for _, s := range payload.Series {
		if s.Metric == "opencalls.records.total" {
			if !contains(s.Tags, "source:artrabbit") || !contains(s.Tags, "job:job1") {
				t.Fatalf("records tags=%v", s.Tags)
			}
			if *s.Points[0].Value != 3 || *s.Points[0].Timestamp != 1000 {
				t.Fatalf("records point=%v", s.Points[0])
			}
		}
	}
}

// TestFlush_NoDataDoesNotSubmit verifies the empty path.
func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d", fs.count())
	}
}

// TestFlush_ErrorStillResets verifies a failed submission does not keep data.
func TestFlush_ErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("intake down")}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.ItemsTotal, 1, metrics.Labels{"source": "x", "status": "skipped"})
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() want error")
	}
	if len(b.counters) != 0 {
		t.Fatalf("buffers not reset after failed Flush")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() on empty buffers err=%v", err)
	}
}

// TestLoopAndClose verifies the background loop flushes periodically and
// Close performs a final flush exactly once.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"source": "a"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission")
	}

	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"source": "a"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	n := fs.count()
	if n < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", n)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
	if fs.count() != n {
		t.Fatalf("second Close submitted again")
	}
}

// TestBackend_ConcurrentAccess verifies buffering is safe under contention.
func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 3000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.PagesTotal, 1, metrics.Labels{"source": "s", "status": "ok"})
				b.ObserveHistogram(metrics.HTTPRequestDuration, 0.02, metrics.Labels{"status": "200"})
			}
		}()
	}
	wg.Wait()

	k, _, _ := keyFor(metrics.PagesTotal, metrics.Labels{"source": "s", "status": "ok"})
	b.mu.Lock()
	got := b.counters[k]
	b.mu.Unlock()
	if got != float64(workers*iters) {
		t.Fatalf("counter=%v, want %d", got, workers*iters)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
}

// TestIgnoredObservations verifies non-positive counters, negative samples,
// unknown names and kind mismatches are dropped.
func TestIgnoredObservations(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 4000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.PagesTotal, 0, nil)
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.IncCounter(metrics.HTTPRequestDuration, 1, nil)
	b.ObserveHistogram(metrics.SourceDuration, -1, nil)
	b.ObserveHistogram(metrics.PagesTotal, 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("expected nothing submitted, got %d", fs.count())
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty_segments", in: " env:prod , ,service:opencalls,  ,team:data ", want: []string{"env:prod", "service:opencalls", "team:data"}},
		{name: "single_tag", in: "service:opencalls", want: []string{"service:opencalls"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

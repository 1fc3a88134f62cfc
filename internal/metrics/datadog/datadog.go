// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on a ticker (default once
// per minute) and once more on Close, so a long crawl produces a time series
// and a short one still gets its tail. Counters become COUNT series; histogram
// samples become p50/p90/p95/p99/max/samples gauges.
//
// If the process is killed with SIGKILL/OOM, Close() won't run.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"opencalls/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "opencalls".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:data"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the subset of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type metricKind int

const (
	kindCounter metricKind = iota
	kindHistogram
)

// known maps internal metric names to their Datadog name and the labels that
// become tags. Anything else is ignored.
var known = map[string]struct {
	ddName string
	kind   metricKind
	labels []string
}{
	metrics.PagesTotal:          {"opencalls.pages.total", kindCounter, []string{"source", "status"}},
	metrics.ItemsTotal:          {"opencalls.items.total", kindCounter, []string{"source", "status"}},
	metrics.RecordsTotal:        {"opencalls.records.total", kindCounter, []string{"source"}},
	metrics.HTTPRequestsTotal:   {"opencalls.http.requests.total", kindCounter, []string{"status"}},
	metrics.HTTPRequestDuration: {"opencalls.http.request_duration_seconds", kindHistogram, []string{"status"}},
	metrics.SourceDuration:      {"opencalls.source.duration_seconds", kindHistogram, []string{"source", "status"}},
}

// seriesKey identifies one buffered series: Datadog metric name plus its
// label tags joined with "\x00".
type seriesKey struct {
	metric string
	tags   string
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once
	closeErr   error

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials come from the DD_API_KEY / DD_SITE
// environment the client reads itself; network errors surface from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "opencalls"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Repeated calls
// return the first result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
		b.closeErr = b.Flush()
	})
	return b.closeErr
}

func keyFor(name string, labels metrics.Labels) (seriesKey, metricKind, bool) {
	def, ok := known[name]
	if !ok {
		return seriesKey{}, 0, false
	}
	tags := make([]string, 0, len(def.labels))
	for _, l := range def.labels {
		v := strings.TrimSpace(labels[l])
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, l+":"+v)
	}
	return seriesKey{metric: def.ddName, tags: strings.Join(tags, "\x00")}, def.kind, true
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, kind, ok := keyFor(name, labels)
	if !ok || kind != kindCounter {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[k] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k, kind, ok := keyFor(name, labels)
	if !ok || kind != kindHistogram {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[k] = append(b.samples[k], value)
}

type snapshot struct {
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.samples) == 0
}

// snapshotAndReset detaches the buffered state under the lock.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counters: b.counters, samples: b.samples}
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return s
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. It returns nil when there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure; output is sorted by metric name then tags so payloads
// are stable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.counters)+6*len(s.samples))

	for _, k := range sortedKeys(s.counters) {
		v := s.counters[k]
		if v == 0 {
			continue
		}
		series = append(series, pointSeries(k.metric, datadogV2.METRICINTAKETYPE_COUNT, v, withTags(b.baseTags, splitTags(k.tags)...), nowUnix))
	}
	for _, k := range sortedKeys(s.samples) {
		addPercentiles(&series, withTags(b.baseTags, splitTags(k.tags)...), k.metric, s.samples[k], nowUnix)
	}
	return series
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}

// addPercentiles appends percentile gauges for samples. It sorts a copy and
// does nothing for an empty sample set.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	gauge := func(suffix string, v float64) {
		*series = append(*series, pointSeries(metricPrefix+suffix, datadogV2.METRICINTAKETYPE_GAUGE, v, tags, nowUnix))
	}
	gauge(".p50", percentileNearestRank(cp, 0.50))
	gauge(".p90", percentileNearestRank(cp, 0.90))
	gauge(".p95", percentileNearestRank(cp, 0.95))
	gauge(".p99", percentileNearestRank(cp, 0.99))
	gauge(".max", cp[len(cp)-1])
	gauge(".samples", float64(len(cp)))
}

func pointSeries(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package metrics is the process-wide metrics facade used by the crawl code.
//
// Callers record through the package-level helpers. The backend defaults to a
// no-op; cmd/opencalls installs a real one (see metrics/datadog) with
// SetBackend when metrics are enabled.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions such as {"source": "artrabbit"}.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	PagesTotal          = "opencalls_pages_total"
	ItemsTotal          = "opencalls_items_total"
	RecordsTotal        = "opencalls_records_total"
	HTTPRequestsTotal   = "opencalls_http_requests_total"
	HTTPRequestDuration = "opencalls_http_request_duration_seconds"
	SourceDuration      = "opencalls_source_duration_seconds"
)

// Status label values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		current = nopBackend{}
		return
	}
	current = b
}

func get() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	get().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	get().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return get().Flush()
}

// RecordPage counts one listing page fetch for source.
func RecordPage(source, status string) {
	IncCounter(PagesTotal, 1, Labels{"source": source, "status": status})
}

// RecordItem counts one listing item outcome for source.
func RecordItem(source, status string) {
	IncCounter(ItemsTotal, 1, Labels{"source": source, "status": status})
}

// RecordRecords counts records written for source.
func RecordRecords(source string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"source": source})
}

// RecordHTTP counts one HTTP exchange. status is the response code, or 0 when
// no response was received.
func RecordHTTP(status int, d time.Duration) {
	l := Labels{"status": HTTPStatusLabel(status)}
	IncCounter(HTTPRequestsTotal, 1, l)
	ObserveHistogram(HTTPRequestDuration, d.Seconds(), l)
}

// RecordSource observes the wall time of one adapter run.
func RecordSource(source, status string, d time.Duration) {
	ObserveHistogram(SourceDuration, d.Seconds(), Labels{"source": source, "status": status})
}

// HTTPStatusLabel renders a response code as a label value; 0 becomes "error".
func HTTPStatusLabel(status int) string {
	if status <= 0 {
		return StatusError
	}
	return strconv.Itoa(status)
}

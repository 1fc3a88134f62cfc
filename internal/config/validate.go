package config

import (
	"fmt"
	"sort"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

var storageKinds = map[string]bool{"": true, "sqlite": true, "postgres": true, "mssql": true}

// Validate checks cfg against the known source names. Errors make the
// configuration unusable; warnings are reported and ignored.
func Validate(cfg Config, knownSources []string) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.DetailDelayMS < 0 {
		add(SeverityError, "detail_delay_ms", "must be >= 0, got %d", cfg.DetailDelayMS)
	}
	if cfg.Fetch.TimeoutSeconds <= 0 {
		add(SeverityError, "fetch.timeout_seconds", "must be > 0, got %d", cfg.Fetch.TimeoutSeconds)
	}
	if cfg.Browser.WaitSeconds <= 0 {
		add(SeverityError, "browser.wait_seconds", "must be > 0, got %d", cfg.Browser.WaitSeconds)
	}

	known := make(map[string]bool, len(knownSources))
	for _, s := range knownSources {
		known[s] = true
	}
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := cfg.Sources[name]
		path := "sources." + name
		if !known[name] {
			add(SeverityWarning, path, "unknown source (known: %v)", knownSources)
		}
		if sc.FirstPage != nil && *sc.FirstPage < 0 {
			add(SeverityError, path+".first_page", "must be >= 0")
		}
		if sc.FirstPage != nil && sc.LastPage != nil && *sc.FirstPage > *sc.LastPage {
			add(SeverityError, path, "first_page %d > last_page %d", *sc.FirstPage, *sc.LastPage)
		}
	}

	if !storageKinds[cfg.Storage.Kind] {
		add(SeverityError, "storage.kind", "unsupported kind %q (sqlite, postgres, mssql)", cfg.Storage.Kind)
	}
	if cfg.Storage.Kind != "" && cfg.Storage.DSN == "" {
		add(SeverityError, "storage.dsn", "required when storage.kind is set")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.FlushSeconds <= 0 {
		add(SeverityError, "metrics.flush_seconds", "must be > 0 when metrics are enabled")
	}

	if cfg.Publish.URL != "" && cfg.Publish.Token == "" {
		add(SeverityWarning, "publish.token", "publish.url set without a token")
	}
	if cfg.Enrich.APIKey == "" {
		add(SeverityWarning, "enrich.api_key", "not set; enrichment will yield \"Error\" for every field")
	}

	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		add(SeverityError, "log.format", "unsupported format %q (console, json)", cfg.Log.Format)
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

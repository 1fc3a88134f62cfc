// Package config loads opencalls.json5 (plus an optional
// opencalls.local.json5 override), fills defaults and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "opencalls.json5"

// Environment overrides.
const (
	EnvStorageDSN   = "OPENCALLS_STORAGE_DSN"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvPublishToken = "OPENCALLS_PUBLISH_TOKEN"
)

type Config struct {
	OutputDir     string                  `json:"output_dir"`
	DetailDelayMS int                     `json:"detail_delay_ms"`
	Fetch         FetchConfig             `json:"fetch"`
	Browser       BrowserConfig           `json:"browser"`
	Sources       map[string]SourceConfig `json:"sources"`
	Storage       StorageConfig           `json:"storage"`
	Metrics       MetricsConfig           `json:"metrics"`
	Enrich        EnrichConfig            `json:"enrich"`
	Publish       PublishConfig           `json:"publish"`
	Log           LogConfig               `json:"log"`
}

type FetchConfig struct {
	TimeoutSeconds int               `json:"timeout_seconds"`
	UserAgent      string            `json:"user_agent"`
	Headers        map[string]string `json:"headers"`
}

type BrowserConfig struct {
	WaitSeconds int    `json:"wait_seconds"`
	UserDataDir string `json:"user_data_dir"`
	DebugPort   string `json:"debug_port"`
	ExecPath    string `json:"exec_path"`
}

// SourceConfig overrides one adapter. Unset fields keep the adapter's
// built-in values.
type SourceConfig struct {
	Enabled   *bool  `json:"enabled"`
	Output    string `json:"output"`
	URL       string `json:"url"`
	FirstPage *int   `json:"first_page"`
	LastPage  *int   `json:"last_page"`
}

// StorageConfig enables the SQL mirror when Kind is set.
type StorageConfig struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

type MetricsConfig struct {
	Enabled      bool     `json:"enabled"`
	Job          string   `json:"job"`
	Tags         []string `json:"tags"`
	FlushSeconds int      `json:"flush_seconds"`
}

type EnrichConfig struct {
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type PublishConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type LogConfig struct {
	Format string `json:"format"`
	File   string `json:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir:     ".",
		DetailDelayMS: 1000,
		Fetch: FetchConfig{
			TimeoutSeconds: 10,
			UserAgent:      "Mozilla/5.0",
		},
		Browser: BrowserConfig{
			WaitSeconds: 10,
			UserDataDir: "/tmp/user-data",
			DebugPort:   "9222",
		},
		Metrics: MetricsConfig{
			Job:          "opencalls",
			FlushSeconds: 60,
		},
		Enrich: EnrichConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4",
			MaxTokens:   4000,
			Temperature: 1,
		},
		Log: LogConfig{Format: "console"},
	}
}

// DetailDelay is the pause before each detail-page fetch.
func (c Config) DetailDelay() time.Duration {
	return time.Duration(c.DetailDelayMS) * time.Millisecond
}

// SourceEnabled reports whether name runs by default. Sources are enabled
// unless explicitly disabled.
func (c Config) SourceEnabled(name string) bool {
	sc, ok := c.Sources[name]
	if !ok || sc.Enabled == nil {
		return true
	}
	return *sc.Enabled
}

// Source returns the overrides for name (zero value if none).
func (c Config) Source(name string) SourceConfig {
	return c.Sources[name]
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// readConfig merges <name>.<ext> and <name>.local.<ext>, the local file
// winning. Returns os.ErrNotExist when neither exists.
func readConfig(name string) (Config, error) {
	var out Config
	found := false

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		if err := json5.Unmarshal(defaultFile, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
	}

	prefix, ext := splitExt(filepath.Base(name))
	localPath := filepath.Join(filepath.Dir(name), fmt.Sprintf("%s.local.%s", prefix, ext))
	localFile, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override Config
		if err := json5.Unmarshal(localFile, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// Load reads path (DefaultFile when empty), fills defaults for unset fields
// and applies environment overrides from getenv (os.Getenv when nil). A
// missing DefaultFile is not an error; a missing explicit path is.
func Load(path string, getenv func(string) string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	cfg, err := readConfig(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		cfg = Config{}
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("apply defaults: %w", err)
	}
	ApplyEnv(&cfg, getenv)
	return cfg, nil
}

// ApplyEnv overrides secrets and the storage DSN from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(getenv(EnvOpenAIKey)); v != "" {
		cfg.Enrich.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvPublishToken)); v != "" {
		cfg.Publish.Token = v
	}
}

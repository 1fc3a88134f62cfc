package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"opencalls/internal/config"
	"opencalls/internal/fetch"
	"opencalls/internal/logging"
	"opencalls/internal/metrics"
	"opencalls/internal/metrics/datadog"
	"opencalls/internal/sources"
	"opencalls/internal/storage"
	_ "opencalls/internal/storage/all"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// EnvMetricsTags adds comma-separated Datadog tags, e.g. "env:prod,team:data".
const EnvMetricsTags = "METRICS_TAGS"

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error   { return &exitError{code: 2, err: err} }
func runtimeError(err error) error { return &exitError{code: 1, err: err} }

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	configPath string
	verbose    bool
	logFile    string

	cfg     config.Config
	log     *zap.Logger
	closers []io.Closer

	openSession func(ctx context.Context, opts fetch.SessionOptions) (fetch.Renderer, error)
}

// run is split out from main so the command can be tested without spawning a
// process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	return newApp(stdin, stdout, stderr, getenv).execute(ctx, args)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		getenv: getenv,
		log:    zap.NewNop(),
		openSession: func(ctx context.Context, opts fetch.SessionOptions) (fetch.Renderer, error) {
			s, err := fetch.OpenSession(ctx, opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	a.shutdown()
	if err == nil {
		return 0
	}

	fmt.Fprintf(a.stderr, "error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Anything cobra reports itself is a usage problem.
	return 2
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opencalls",
		Short:         "opencalls collects artist open calls from residency and competition sites.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "also write JSON logs to this rotating file")

	root.AddCommand(
		a.runCmd(),
		a.linksCmd(),
		a.enrichCmd(),
		a.sourcesCmd(),
		a.debugCmd(),
	)
	return root
}

// setup loads configuration and builds the logger and metrics backend.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath, a.getenv)
	if err != nil {
		return usageError(err)
	}

	logFile := cfg.Log.File
	if a.logFile != "" {
		logFile = a.logFile
	}
	log, closer := logging.New(a.stderr, logging.Options{Verbose: a.verbose, Format: cfg.Log.Format, File: logFile})
	a.log = log
	a.closers = append(a.closers, closer)

	issues := config.Validate(cfg, sources.Names())
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			log.Error("invalid config", zap.String("path", iss.Path), zap.String("problem", iss.Message))
			continue
		}
		log.Debug("config warning", zap.String("path", iss.Path), zap.String("problem", iss.Message))
	}
	if config.HasErrors(issues) {
		return usageError(errors.New("invalid configuration"))
	}
	a.cfg = cfg

	if cfg.Metrics.Enabled {
		tags := append(append([]string(nil), cfg.Metrics.Tags...), datadog.ParseTagsCSV(a.getenv(EnvMetricsTags))...)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Metrics.Job,
			Tags:       tags,
			FlushEvery: time.Duration(cfg.Metrics.FlushSeconds) * time.Second,
		})
		if err != nil {
			return runtimeError(fmt.Errorf("metrics backend: %w", err))
		}
		metrics.SetBackend(b)
		a.closers = append(a.closers, metricsCloser{b})
	}
	return nil
}

type metricsCloser struct{ b *datadog.Backend }

func (m metricsCloser) Close() error {
	err := m.b.Close()
	metrics.SetBackend(nil)
	return err
}

// shutdown closes in reverse order so the logger outlives the metrics flush.
func (a *app) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(a.stderr, "shutdown: %v\n", err)
		}
	}
	a.closers = nil
}

func (a *app) staticFetcher() *fetch.Static {
	return fetch.NewStatic(fetch.StaticOptions{
		Timeout:   time.Duration(a.cfg.Fetch.TimeoutSeconds) * time.Second,
		UserAgent: a.cfg.Fetch.UserAgent,
		Headers:   a.cfg.Fetch.Headers,
	})
}

func (a *app) sessionOpener() func(ctx context.Context) (fetch.Renderer, error) {
	opts := fetch.SessionOptions{
		Wait:        time.Duration(a.cfg.Browser.WaitSeconds) * time.Second,
		UserDataDir: a.cfg.Browser.UserDataDir,
		DebugPort:   a.cfg.Browser.DebugPort,
		ExecPath:    a.cfg.Browser.ExecPath,
	}
	return func(ctx context.Context) (fetch.Renderer, error) {
		a.log.Info("opening browser session", zap.String("user_data_dir", opts.UserDataDir))
		return a.openSession(ctx, opts)
	}
}

// openRepository opens the SQL mirror when one is configured. A backend that
// cannot be reached is logged and the run continues with CSV output only.
func (a *app) openRepository(ctx context.Context) storage.Repository {
	if a.cfg.Storage.Kind == "" {
		return nil
	}
	repo, err := storage.New(ctx, storage.Config{Kind: a.cfg.Storage.Kind, DSN: a.cfg.Storage.DSN})
	if err != nil {
		a.log.Error("sql mirror disabled", zap.String("kind", a.cfg.Storage.Kind), zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, repoCloser{repo})
	return repo
}

type repoCloser struct{ r storage.Repository }

func (c repoCloser) Close() error {
	c.r.Close()
	return nil
}

func (a *app) overrides() map[string]sources.Override {
	out := make(map[string]sources.Override, len(a.cfg.Sources))
	for name, sc := range a.cfg.Sources {
		out[name] = sources.Override{URL: sc.URL, FirstPage: sc.FirstPage, LastPage: sc.LastPage}
	}
	return out
}

// outputPath resolves a configured or default file name against the output
// directory. Absolute paths are kept.
func (a *app) outputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.cfg.OutputDir, name)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// Package runner executes source adapters one after another and persists
// each one's records.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"opencalls/internal/fetch"
	"opencalls/internal/metrics"
	"opencalls/internal/persist"
	"opencalls/internal/record"
	"opencalls/internal/sources"

	"go.uber.org/zap"
)

// Task is one adapter run and where its output goes.
type Task struct {
	Adapter sources.Adapter
	// Output is the CSV path. Empty means Adapter.Output() under OutputDir.
	Output string
	// KeepDuplicates writes every record instead of deduplicating.
	KeepDuplicates bool
}

// Summary reports one task.
type Summary struct {
	Source   string
	Output   string
	Records  int
	Written  int
	Duration time.Duration
	Err      error
}

// Runner drives tasks sequentially.
type Runner struct {
	Logger    *zap.Logger
	Fetcher   fetch.Fetcher
	Persister *persist.Persister
	OutputDir string
	Delay     time.Duration

	// OpenSession opens the browser session for adapters that need one.
	OpenSession func(ctx context.Context) (fetch.Renderer, error)
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run executes tasks in order. A failing task never stops the ones after it;
// the returned summaries are in task order.
func (r *Runner) Run(ctx context.Context, tasks []Task) []Summary {
	out := make([]Summary, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			out = append(out, Summary{Source: t.Adapter.Name(), Output: r.outputPath(t), Err: err})
			continue
		}
		out = append(out, r.runTask(ctx, t))
	}
	return out
}

func (r *Runner) persister() *persist.Persister {
	if r.Persister == nil {
		return &persist.Persister{Logger: r.Logger}
	}
	return r.Persister
}

func (r *Runner) outputPath(t Task) string {
	if t.Output != "" {
		return t.Output
	}
	return filepath.Join(r.OutputDir, t.Adapter.Output())
}

func (r *Runner) runTask(ctx context.Context, t Task) Summary {
	log := r.logger()
	name := t.Adapter.Name()
	sum := Summary{Source: name, Output: r.outputPath(t)}
	start := time.Now()

	log.Info("source started", zap.String("source", name))

	set, err := r.crawl(ctx, t.Adapter)
	sum.Records = set.Len()
	if err != nil {
		sum.Err = err
		log.Error("source failed", zap.String("source", name), zap.Int("records", sum.Records), zap.Error(err))
	}

	if set != nil {
		p := r.persister()
		persistFn := p.Persist
		if t.KeepDuplicates {
			persistFn = p.PersistAll
		}
		res, perr := persistFn(ctx, set, sum.Output)
		sum.Written = res.Written
		if perr != nil {
			log.Error("saving records failed", zap.String("source", name), zap.String("path", sum.Output), zap.Error(perr))
			if sum.Err == nil {
				sum.Err = perr
			}
		}
	}

	sum.Duration = time.Since(start)
	status := metrics.StatusOK
	if sum.Err != nil {
		status = metrics.StatusError
	}
	metrics.RecordSource(name, status, sum.Duration)
	log.Info("source finished",
		zap.String("source", name),
		zap.Int("records", sum.Records),
		zap.Int("written", sum.Written),
		zap.Duration("took", sum.Duration.Truncate(time.Millisecond)),
	)
	return sum
}

// crawl runs one adapter with its own browser session when it needs one. The
// session is closed on every return path, including panics.
func (r *Runner) crawl(ctx context.Context, a sources.Adapter) (set *record.Set, err error) {
	env := sources.Env{
		Fetcher: r.Fetcher,
		Logger:  r.logger(),
		Delay:   r.Delay,
	}

	if a.NeedsRenderer() {
		if r.OpenSession == nil {
			return nil, fmt.Errorf("%s: %w", a.Name(), sources.ErrNoRenderer)
		}
		session, err := r.OpenSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: open session: %w", a.Name(), err)
		}
		defer func() {
			if cerr := session.Close(); cerr != nil {
				r.logger().Warn("closing session failed", zap.String("source", a.Name()), zap.Error(cerr))
			}
		}()
		env.Renderer = session
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger().Error("adapter panicked", zap.String("source", a.Name()), zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			set, err = nil, fmt.Errorf("%s: panic: %v", a.Name(), p)
		}
	}()
	return a.Crawl(ctx, env)
}

package main

import (
	"errors"
	"fmt"
	"time"

	"opencalls/internal/persist"
	"opencalls/internal/runner"
	"opencalls/internal/sources"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) runCmd() *cobra.Command {
	var (
		only      []string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl the open-call sites and write one CSV per site.",
		Long: "Crawl every enabled source in a fixed order (or only those named with --source). " +
			"A source that fails is reported and the remaining ones still run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputDir != "" {
				a.cfg.OutputDir = outputDir
			}
			tasks, err := a.tasks(only)
			if err != nil {
				return usageError(err)
			}

			ctx := cmd.Context()
			r := &runner.Runner{
				Logger:      a.log,
				Fetcher:     a.staticFetcher(),
				Persister:   &persist.Persister{Logger: a.log, Repo: a.openRepository(ctx)},
				Delay:       a.cfg.DetailDelay(),
				OpenSession: a.sessionOpener(),
			}
			sums := r.Run(ctx, tasks)
			a.printSummaries(sums)
			return summariesError(sums)
		},
	}
	cmd.Flags().StringSliceVar(&only, "source", nil, "run only these sources (repeatable)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for CSV output (overrides output_dir)")
	return cmd
}

// tasks builds the run list in the fixed source order. Named sources run even
// when disabled in config.
func (a *app) tasks(only []string) ([]runner.Task, error) {
	want := make(map[string]bool, len(only))
	for _, name := range only {
		if _, err := sources.New(name, sources.Override{}); err != nil {
			return nil, err
		}
		want[name] = true
	}

	var tasks []runner.Task
	for _, ad := range sources.All(a.overrides()) {
		name := ad.Name()
		if len(want) > 0 && !want[name] {
			continue
		}
		if len(want) == 0 && !a.cfg.SourceEnabled(name) {
			a.log.Info("source disabled", zap.String("source", name))
			continue
		}
		out := ad.Output()
		if sc := a.cfg.Source(name); sc.Output != "" {
			out = sc.Output
		}
		tasks = append(tasks, runner.Task{Adapter: ad, Output: a.outputPath(out)})
	}
	if len(tasks) == 0 {
		return nil, errors.New("no sources to run")
	}
	return tasks, nil
}

func (a *app) printSummaries(sums []runner.Summary) {
	t := newTable(a.stdout)
	t.AppendHeader(table.Row{"Source", "Records", "Written", "Took", "Output", "Error"})
	for _, s := range sums {
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		t.AppendRow(table.Row{s.Source, s.Records, s.Written, s.Duration.Round(time.Millisecond).String(), s.Output, errText})
	}
	t.Render()
}

// summariesError fails the command only when every task failed.
func summariesError(sums []runner.Summary) error {
	var errs []error
	for _, s := range sums {
		if s.Err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Source, s.Err))
	}
	if len(errs) == 0 {
		return nil
	}
	return runtimeError(fmt.Errorf("all sources failed: %w", errors.Join(errs...)))
}

package main

import (
	"errors"
	"fmt"
	"time"

	"opencalls/internal/enrich"
	"opencalls/internal/persist"
	"opencalls/internal/publish"

	csvparser "opencalls/internal/parser/csv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) enrichCmd() *cobra.Command {
	var (
		in, out   string
		doPublish bool
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Summarize scraped rows into publishable open calls with a chat completion model.",
		Long: "Ask the configured model a fixed set of questions about every row of --in and write the " +
			"answers to --out. With --publish each answered row is also posted to publish.url.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in == "" {
				return usageError(errors.New("--in is required"))
			}
			if doPublish && a.cfg.Publish.URL == "" {
				return usageError(errors.New("--publish needs publish.url in the config"))
			}
			ctx := cmd.Context()

			rows, err := csvparser.LoadRecords(ctx, in, "results", func(line int, err error) {
				a.log.Warn("skipping malformed line", zap.String("path", in), zap.Int("line", line), zap.Error(err))
			})
			if err != nil {
				return runtimeError(err)
			}

			client := enrich.New(enrich.Options{
				BaseURL:     a.cfg.Enrich.BaseURL,
				Model:       a.cfg.Enrich.Model,
				APIKey:      a.cfg.Enrich.APIKey,
				MaxTokens:   a.cfg.Enrich.MaxTokens,
				Temperature: a.cfg.Enrich.Temperature,
			}, a.log)

			start := time.Now()
			results, err := client.Set(ctx, rows, nil)
			if err != nil {
				a.log.Warn("enrichment interrupted", zap.Int("done", results.Len()), zap.Error(err))
			}

			var sent, failed int
			if doPublish {
				sent, failed = publish.New(a.cfg.Publish.URL, a.cfg.Publish.Token, a.log).SendAll(ctx, results)
			}

			if out == "" {
				out = a.outputPath("results.csv")
			}
			res, perr := (&persist.Persister{Logger: a.log}).PersistAll(ctx, results, out)
			if perr != nil {
				return runtimeError(perr)
			}

			t := newTable(a.stdout)
			t.AppendHeader(table.Row{"Rows", "Enriched", "Published", "Rejected", "Took", "Output"})
			t.AppendRow(table.Row{rows.Len(), res.Written, sent, failed, time.Since(start).Round(time.Millisecond).String(), out})
			t.Render()

			if err != nil {
				return runtimeError(fmt.Errorf("enrich: %w", err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "CSV file to enrich")
	cmd.Flags().StringVar(&out, "out", "", "output CSV (default <output_dir>/results.csv)")
	cmd.Flags().BoolVar(&doPublish, "publish", false, "post every enriched row to publish.url")
	return cmd
}

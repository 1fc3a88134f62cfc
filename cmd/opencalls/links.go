package main

import (
	"errors"

	"opencalls/internal/persist"
	"opencalls/internal/runner"
	"opencalls/internal/sources"

	csvparser "opencalls/internal/parser/csv"

	"github.com/spf13/cobra"
)

func (a *app) linksCmd() *cobra.Command {
	var in, out, column string
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Visit every link in a CSV file and extract one call-for-entry record per page.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in == "" {
				return usageError(errors.New("--in is required"))
			}
			links, err := csvparser.LoadLinks(in, column)
			if err != nil {
				return usageError(err)
			}

			if out == "" {
				out = a.outputPath(sources.LinkCrawlerOutput)
			}
			ctx := cmd.Context()
			r := &runner.Runner{
				Logger:    a.log,
				Fetcher:   a.staticFetcher(),
				Persister: &persist.Persister{Logger: a.log, Repo: a.openRepository(ctx)},
				Delay:     a.cfg.DetailDelay(),
			}
			sums := r.Run(ctx, []runner.Task{{
				Adapter:        sources.NewLinkCrawler(links),
				Output:         out,
				KeepDuplicates: true,
			}})
			a.printSummaries(sums)
			return summariesError(sums)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "CSV file with a link column")
	cmd.Flags().StringVar(&out, "out", "", "output CSV (default <output_dir>/"+sources.LinkCrawlerOutput+")")
	cmd.Flags().StringVar(&column, "column", csvparser.LinkColumn, "name of the link column")
	return cmd
}

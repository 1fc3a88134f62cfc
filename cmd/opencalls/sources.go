package main

import (
	"strings"

	"opencalls/internal/sources"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func (a *app) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the available sources, their output files and columns.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			t := newTable(a.stdout)
			t.AppendHeader(table.Row{"#", "Source", "Enabled", "Browser", "Output", "Columns"})
			for i, ad := range sources.All(a.overrides()) {
				out := ad.Output()
				if sc := a.cfg.Source(ad.Name()); sc.Output != "" {
					out = sc.Output
				}
				t.AppendRow(table.Row{
					i + 1,
					ad.Name(),
					a.cfg.SourceEnabled(ad.Name()),
					ad.NeedsRenderer(),
					out,
					strings.Join(ad.Columns(), ", "),
				})
			}
			t.Render()
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"opencalls/internal/extracthtml"
	"opencalls/internal/record"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
)

func (a *app) debugCmd() *cobra.Command {
	var (
		url, selector, mappings string
		textOnly                bool
	)
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print selector matches or field-map extraction for one page (from --url or stdin).",
		Example: `  cat page.html | opencalls debug --selector "div.artopp" --text
  opencalls debug --url https://www.artrabbit.com/artist-opportunities/ --mappings artrabbit.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if selector == "" && mappings == "" {
				return usageError(errors.New("one of --selector or --mappings is required"))
			}

			var mf *extracthtml.FieldMapFile
			if mappings != "" {
				var err error
				if mf, err = extracthtml.LoadFieldMapFile(mappings); err != nil {
					return usageError(err)
				}
			}

			doc, err := a.loadDocument(cmd, url)
			if err != nil {
				return runtimeError(err)
			}

			if selector != "" {
				n := extracthtml.DebugPrintSelector(a.stdout, doc, selector, textOnly)
				if n == 0 {
					fmt.Fprintf(a.stderr, "no matches for %q\n", selector)
				}
				return nil
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if mf.ItemSelector != "" {
				recs := extracthtml.ExtractRecords(doc, mf.ItemSelector, mf.Fields)
				if recs == nil {
					recs = []record.Record{}
				}
				return encodeOrFail(enc, recs)
			}
			return encodeOrFail(enc, extracthtml.ExtractRecord(doc.Selection, mf.Fields))
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "fetch the page instead of reading stdin")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector whose matches are printed")
	cmd.Flags().BoolVar(&textOnly, "text", false, "print match text instead of outer HTML")
	cmd.Flags().StringVar(&mappings, "mappings", "", "field map JSON file to apply")
	return cmd
}

func encodeOrFail(enc *json.Encoder, v any) error {
	if err := enc.Encode(v); err != nil {
		return runtimeError(fmt.Errorf("encode json: %w", err))
	}
	return nil
}

func (a *app) loadDocument(cmd *cobra.Command, url string) (*goquery.Document, error) {
	if url != "" {
		return a.staticFetcher().Fetch(cmd.Context(), url, nil)
	}
	b, err := io.ReadAll(a.stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return extracthtml.ParseString(string(b))
}

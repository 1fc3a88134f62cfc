// Command opencalls crawls artist open-call listings into CSV files and,
// optionally, enriches and publishes them.
//
// Usage:
//
//	opencalls run [--source artrabbit --source resartis]
//	opencalls links --in links.csv
//	opencalls enrich --in artist_callforentry.csv --publish
//	opencalls sources
//	cat page.html | opencalls debug --selector "div.artopp" --text
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

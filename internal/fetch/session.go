package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

const (
	DefaultRenderWait    = 10 * time.Second
	DefaultNavigateLimit = 60 * time.Second
	DefaultUserDataDir   = "/tmp/user-data"
	DefaultDebugPort     = "9222"
)

// SessionOptions configures the browser.
type SessionOptions struct {
	// Wait bounds how long Render waits for the readiness marker.
	Wait time.Duration
	// NavigateLimit bounds the navigation itself.
	NavigateLimit time.Duration
	UserDataDir   string
	DebugPort     string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Wait <= 0 {
		o.Wait = DefaultRenderWait
	}
	if o.NavigateLimit <= 0 {
		o.NavigateLimit = DefaultNavigateLimit
	}
	if o.UserDataDir == "" {
		o.UserDataDir = DefaultUserDataDir
	}
	if o.DebugPort == "" {
		o.DebugPort = DefaultDebugPort
	}
	return o
}

func allocatorOptions(o SessionOptions) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("remote-debugging-port", o.DebugPort),
		chromedp.UserDataDir(o.UserDataDir),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

// Session is one browser process. It is not safe for concurrent Render calls;
// the orchestrator opens one per source and closes it when the source ends.
type Session struct {
	browserCtx context.Context
	cancels    []context.CancelFunc
	opts       SessionOptions

	closeOnce sync.Once
}

var _ Renderer = (*Session)(nil)

// OpenSession starts Chrome and returns a ready session.
func OpenSession(parent context.Context, opts SessionOptions) (*Session, error) {
	opts = opts.withDefaults()

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
		opts:       opts,
	}

	// An empty Run launches the browser so start-up failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

// Render navigates to url, waits up to the configured wait for marker and
// returns the rendered DOM. A missing marker yields a *FetchError wrapping
// ErrRenderTimeout.
func (s *Session) Render(ctx context.Context, url, marker string) (*goquery.Document, error) {
	if s.browserCtx == nil || s.browserCtx.Err() != nil {
		return nil, &FetchError{URL: url, Cause: errors.New("session closed")}
	}

	navCtx, cancelNav := context.WithTimeout(s.browserCtx, s.opts.NavigateLimit)
	defer cancelNav()
	stop := context.AfterFunc(ctx, cancelNav)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return nil, &FetchError{URL: url, Cause: err}
	}

	waitCtx, cancelWait := context.WithTimeout(s.browserCtx, s.opts.Wait)
	defer cancelWait()
	stopWait := context.AfterFunc(ctx, cancelWait)
	defer stopWait()

	var html string
	err := chromedp.Run(waitCtx,
		chromedp.WaitReady(marker, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, &FetchError{URL: url, Cause: ErrRenderTimeout}
		}
		return nil, &FetchError{URL: url, Cause: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &FetchError{URL: url, Cause: fmt.Errorf("parse html: %w", err)}
	}
	return doc, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for _, cancel := range s.cancels {
			cancel()
		}
	})
	return nil
}

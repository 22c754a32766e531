// Package browser drives an isolated Chrome session per request through the
// fixed UI scripts of the INE voter-list and CURP portals.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrGeneration wraps every failure of a browser flow. Missing selectors,
// navigation errors and download timeouts are not told apart.
var ErrGeneration = errors.New("document generation failed")

type Config struct {
	Headless  bool
	NoSandbox bool
	// ExecPath overrides the Chrome binary chromedp looks up.
	ExecPath string
	// RemoteURL, when set, attaches to an already running browser's DevTools
	// websocket instead of launching one.
	RemoteURL string

	INESettleBeforeSubmit time.Duration
	INESettleAfterSubmit  time.Duration
	CURPButtonTimeout     time.Duration
	CURPDownloadTimeout   time.Duration
}

// Driver launches a fresh browser for every flow and tears it down on return.
type Driver struct {
	config  Config
	ineURL  string
	curpURL string
	// onSession, when set, sees every browser context the driver creates.
	onSession func(context.Context)
}

func NewDriver(config Config) *Driver {
	return &Driver{config: config, ineURL: INESiteURL, curpURL: CURPSiteURL}
}

func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", d.config.Headless),
		chromedp.WindowSize(1280, 1024),
	)
	if d.config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if d.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.ExecPath))
	}
	return opts
}

// session starts an isolated browser and returns its context. The returned
// cancel func closes the browser and must always be called.
func (d *Driver) session(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if d.config.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, d.config.RemoteURL)
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, d.allocatorOptions()...)
	}
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if d.onSession != nil {
		d.onSession(browserCtx)
	}
	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

func sleep(d time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

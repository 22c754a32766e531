package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

const (
	CURPSiteURL = "https://www.gob.mx/curp/"

	curpInputSelector    = `#curpinput`
	curpSearchSelector   = `#searchButton`
	curpDownloadSelector = `#download`
	curpFileName         = "curp.pdf"
)

// DownloadCURP looks up curp on the registry portal and saves the certificate
// it offers for download into dir. It returns the path of the saved file.
func (d *Driver) DownloadCURP(ctx context.Context, curp, dir string) (string, error) {
	ctx, cancel := d.session(ctx)
	defer cancel()

	logCtx := slog.With("site", d.curpURL, "dir", dir)

	done := make(chan string, 1)
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*cdpbrowser.EventDownloadProgress); ok && e.State == cdpbrowser.DownloadProgressStateCompleted {
			select {
			case done <- e.GUID:
			default:
			}
		}
	})

	fail := func(step string, err error) (string, error) {
		logCtx.Error("CURP browser flow failed.", "step", step, "error", err)
		return "", fmt.Errorf("%w: %s: %w", ErrGeneration, step, err)
	}

	err := chromedp.Run(ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
		chromedp.Navigate(d.curpURL),
		chromedp.SendKeys(curpInputSelector, curp, chromedp.ByQuery),
		chromedp.Click(curpSearchSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fail("search", err)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, d.config.CURPButtonTimeout)
	err = chromedp.Run(waitCtx, chromedp.WaitReady(curpDownloadSelector, chromedp.ByQuery))
	cancelWait()
	if err != nil {
		return fail("wait for download button", err)
	}

	if err := chromedp.Run(ctx, chromedp.Click(curpDownloadSelector, chromedp.ByQuery)); err != nil {
		return fail("click download", err)
	}

	var guid string
	select {
	case guid = <-done:
	case <-time.After(d.config.CURPDownloadTimeout):
		return fail("wait for download", context.DeadlineExceeded)
	case <-ctx.Done():
		return fail("wait for download", ctx.Err())
	}

	// AllowAndName saves the file under its download GUID.
	path := filepath.Join(dir, curpFileName)
	if err := os.Rename(filepath.Join(dir, guid), path); err != nil {
		return fail("save download", err)
	}
	logCtx.Info("CURP certificate downloaded.", "path", path)
	return path, nil
}

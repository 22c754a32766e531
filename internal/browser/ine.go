package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	INESiteURL = "https://listanominal.ine.mx/scpln/"
	INESiteKey = "6LdAe1sUAAAAACrdhVFHK5KmZ5TA8ZJ0iWQ6i64b"

	ineCICSelector      = `input[name="cic"]`
	ineCitizenSelector  = `input[name="idCiudadano"]`
	ineFormSelector     = `#formEFGH`
	recaptchaResponseID = `g-recaptcha-response`
	a4WidthInches       = 8.27
	a4HeightInches      = 11.69
)

// INERequest carries the voter-list query and the already solved token.
type INERequest struct {
	CIC            string
	IDCiudadano    string
	RecaptchaToken string
}

// injectTokenScript makes the hidden reCAPTCHA textarea carry token so the
// form posts as if the widget had been solved on the page.
func injectTokenScript(token string) string {
	quoted, _ := json.Marshal(token)
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%q);
	el.style.display = "block";
	el.value = %s;
	return true;
})()`, recaptchaResponseID, quoted)
}

func submitFormScript(selector string) string {
	return fmt.Sprintf(`document.querySelector(%q).submit()`, selector)
}

// RenderINE fills the voter-list query form, submits it with the injected
// token and prints the resulting page to an A4 PDF.
func (d *Driver) RenderINE(ctx context.Context, req INERequest) ([]byte, error) {
	ctx, cancel := d.session(ctx)
	defer cancel()

	logCtx := slog.With("site", d.ineURL)
	var injected bool
	var pdf []byte
	err := chromedp.Run(ctx,
		chromedp.Navigate(d.ineURL),
		chromedp.WaitReady(ineCICSelector, chromedp.ByQuery),
		chromedp.SendKeys(ineCICSelector, req.CIC, chromedp.ByQuery),
		chromedp.SendKeys(ineCitizenSelector, req.IDCiudadano, chromedp.ByQuery),
		chromedp.Evaluate(injectTokenScript(req.RecaptchaToken), &injected),
		sleep(d.config.INESettleBeforeSubmit),
		chromedp.Evaluate(submitFormScript(ineFormSelector), nil),
		sleep(d.config.INESettleAfterSubmit),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPaperWidth(a4WidthInches).
				WithPaperHeight(a4HeightInches).
				WithPrintBackground(true).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		logCtx.Error("INE browser flow failed.", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	logCtx.Info("INE page rendered to PDF.", "bytes", len(pdf))
	return pdf, nil
}

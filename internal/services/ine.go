package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/Lllllllleong/identitydocumentflow/internal/browser"
	"github.com/Lllllllleong/identitydocumentflow/internal/captcha"
	"github.com/Lllllllleong/identitydocumentflow/internal/failure"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
)

// generateINE solves the voter-list CAPTCHA, renders the query result page and
// stores it under key.
func (p *Pipeline) generateINE(ctx context.Context, logCtx *slog.Logger, rec *models.OCRRecord, key string) (generated, error) {
	const op = "ine"
	if len(rec.DataINEReverso) == 0 {
		return generated{}, failure.New(failure.KindNotFound, op, "no INE back-side data found for user")
	}
	query, err := rec.INEQuery()
	if err != nil {
		return generated{}, failure.Wrap(failure.KindInput, op, "INE data is incomplete", err)
	}

	token, err := p.deps.Solver.Solve(ctx, browser.INESiteURL, browser.INESiteKey)
	if err != nil {
		return generated{}, classifyCaptcha(op, err)
	}
	logCtx.Info("Captcha token obtained.")

	pdf, err := p.deps.Renderer.RenderINE(ctx, browser.INERequest{
		CIC:            query.CIC,
		IDCiudadano:    query.IDCiudadano,
		RecaptchaToken: token,
	})
	if err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "error during automation or PDF generation", err)
	}

	pages, err := p.inspect(bytes.NewReader(pdf))
	if err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "captured page is not a valid PDF", err)
	}
	logCtx.Info("INE PDF captured.", "pageCount", pages, "bytes", len(pdf))

	if err := p.store(ctx, logCtx, op, key, bytes.NewReader(pdf)); err != nil {
		return generated{}, err
	}
	return generated{key: key, pageCount: pages}, nil
}

func classifyCaptcha(op string, err error) error {
	switch {
	case errors.Is(err, captcha.ErrTimeout):
		return failure.Wrap(failure.KindUpstreamTimeout, op, "timed out waiting for the CAPTCHA", err)
	case errors.Is(err, captcha.ErrSubmitRejected):
		return failure.Wrap(failure.KindUpstream, op, "error submitting CAPTCHA", err)
	default:
		return failure.Wrap(failure.KindUpstream, op, "CAPTCHA error", err)
	}
}

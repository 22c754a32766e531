package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Lllllllleong/identitydocumentflow/internal/failure"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
)

// generateCURP downloads the CURP certificate into a per-run scratch
// directory and stores it under key. The directory is removed on every path.
func (p *Pipeline) generateCURP(ctx context.Context, logCtx *slog.Logger, rec *models.OCRRecord, key string) (generated, error) {
	const op = "curp"
	if len(rec.DataINE) == 0 {
		return generated{}, failure.New(failure.KindNotFound, op, "no INE data found for user")
	}
	curp, err := rec.CURP()
	if err != nil {
		return generated{}, failure.Wrap(failure.KindInput, op, "CURP not found in INE data", err)
	}

	scratchDir, err := os.MkdirTemp(p.config.ScratchRoot, "descargas_*")
	if err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "failed to create download directory", err)
	}
	defer os.RemoveAll(scratchDir)
	logCtx.Info("Created scratch directory.", "path", scratchDir)

	path, err := p.deps.Renderer.DownloadCURP(ctx, curp, scratchDir)
	if err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "error during automation or PDF download", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "downloaded file is unreadable", err)
	}
	defer f.Close()

	pages, err := p.inspect(f)
	if err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "downloaded file is not a valid PDF", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return generated{}, failure.Wrap(failure.KindAutomation, op, "downloaded file is unreadable", fmt.Errorf("rewind: %w", err))
	}
	logCtx.Info("CURP PDF downloaded.", "pageCount", pages)

	if err := p.store(ctx, logCtx, op, key, f); err != nil {
		return generated{}, err
	}
	return generated{key: key, pageCount: pages}, nil
}

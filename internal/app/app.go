// Package app builds the shared clients of the service once and hands the
// resulting pipeline to whichever entry point is running.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Lllllllleong/identitydocumentflow/internal/artifacts"
	"github.com/Lllllllleong/identitydocumentflow/internal/browser"
	"github.com/Lllllllleong/identitydocumentflow/internal/captcha"
	"github.com/Lllllllleong/identitydocumentflow/internal/config"
	"github.com/Lllllllleong/identitydocumentflow/internal/db"
	"github.com/Lllllllleong/identitydocumentflow/internal/gcp"
	"github.com/Lllllllleong/identitydocumentflow/internal/services"
)

// App owns the database pool, storage client and journal client.
type App struct {
	Config   *config.Config
	Records  *db.RecordRepository
	Pipeline *services.Pipeline

	closers []func() error
}

// SetupLogging installs the JSON slog handler on stdout as the default logger.
func SetupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// Load reads the configuration, installs logging at its level and builds the
// App.
func Load(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	SetupLogging(cfg.SlogLevel())
	return New(ctx, cfg)
}

// New validates cfg and connects every dependency. On error, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{Config: cfg}

	pool, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.Records = db.NewRecordRepository(pool)

	store, closeStore, err := artifacts.Open(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	a.closers = append(a.closers, closeStore)

	deps := services.Dependencies{
		Records: a.Records,
		Solver: captcha.NewClient(captcha.Config{
			APIKey:       cfg.Captcha.APIKey,
			BaseURL:      cfg.Captcha.BaseURL,
			PollInterval: cfg.Captcha.PollInterval,
			MaxPolls:     cfg.Captcha.MaxPolls,
		}),
		Renderer: browser.NewDriver(browser.Config{
			Headless:              cfg.Browser.Headless,
			NoSandbox:             cfg.Browser.NoSandbox,
			ExecPath:              cfg.Browser.ExecPath,
			RemoteURL:             cfg.Browser.RemoteURL,
			INESettleBeforeSubmit: cfg.Browser.INESettleBeforeSubmit,
			INESettleAfterSubmit:  cfg.Browser.INESettleAfterSubmit,
			CURPButtonTimeout:     cfg.Browser.CURPButtonTimeout,
			CURPDownloadTimeout:   cfg.Browser.CURPDownloadTimeout,
		}),
		Artifacts: store,
	}

	if cfg.Journal.ProjectID != "" {
		client, err := gcp.NewFirestoreClient(ctx, cfg.Journal.ProjectID)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		deps.Journal = gcp.NewRunJournal(client, cfg.Journal.Collection)
	} else {
		slog.Info("Run journal disabled; FIRESTORE_PROJECT_ID is not set.")
	}

	a.Pipeline = services.NewPipeline(deps, services.PipelineConfig{
		ScratchRoot: cfg.ScratchDir,
		LinkTTL:     cfg.Storage.LinkTTL,
	})
	slog.Info("Validation service initialized.",
		"storageBackend", cfg.Storage.Backend,
		"bucket", cfg.Storage.Bucket,
		"journal", deps.Journal != nil,
		"headless", cfg.Browser.Headless,
	)
	return a, nil
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

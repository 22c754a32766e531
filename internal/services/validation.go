package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Lllllllleong/identitydocumentflow/internal/browser"
	"github.com/Lllllllleong/identitydocumentflow/internal/db"
	"github.com/Lllllllleong/identitydocumentflow/internal/failure"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
	"github.com/google/uuid"
)

// RecordStore looks up the OCR record of a user.
type RecordStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.OCRRecord, error)
}

// CaptchaSolver returns a reCAPTCHA response token for a page.
type CaptchaSolver interface {
	Solve(ctx context.Context, siteURL, siteKey string) (string, error)
}

// DocumentRenderer runs the browser side of both flows.
type DocumentRenderer interface {
	RenderINE(ctx context.Context, req browser.INERequest) ([]byte, error)
	DownloadCURP(ctx context.Context, curp, dir string) (string, error)
}

// ArtifactStore persists generated documents.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (*models.Artifact, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// RunJournal records the lifecycle of each run. Its failures never change a
// run's outcome.
type RunJournal interface {
	Start(ctx context.Context, run models.ValidationRun) error
	Finish(ctx context.Context, run models.ValidationRun) error
}

// Delivery selects how a stored document is handed back.
type Delivery string

const (
	// DeliveryStream opens the stored object for the caller to stream.
	DeliveryStream Delivery = "stream"
	// DeliveryLink returns a time-limited download link.
	DeliveryLink Delivery = "link"
)

type Request struct {
	UserID   string
	DocType  models.DocType
	Delivery Delivery
}

// Result describes a stored document. Artifact is set for DeliveryStream and
// must be closed by the caller; DownloadURL and ExpiresAt for DeliveryLink.
type Result struct {
	RunID       string
	Key         string
	FileName    string
	PageCount   int
	Artifact    *models.Artifact
	DownloadURL string
	ExpiresAt   time.Time
}

type Dependencies struct {
	Records   RecordStore
	Solver    CaptchaSolver
	Renderer  DocumentRenderer
	Artifacts ArtifactStore
	// Journal may be nil.
	Journal RunJournal
}

type PipelineConfig struct {
	// ScratchRoot is where per-run download directories are created.
	ScratchRoot string
	LinkTTL     time.Duration
}

// Pipeline sequences record lookup, CAPTCHA solving, browser automation and
// storage for both document flows.
type Pipeline struct {
	deps    Dependencies
	config  PipelineConfig
	inspect func(io.ReadSeeker) (int, error)
	now     func() time.Time
}

func NewPipeline(deps Dependencies, config PipelineConfig) *Pipeline {
	if config.LinkTTL <= 0 {
		config.LinkTTL = time.Hour
	}
	return &Pipeline{
		deps:    deps,
		config:  config,
		inspect: inspectPDF,
		now:     time.Now,
	}
}

// generated is what a flow leaves in storage.
type generated struct {
	key       string
	pageCount int
}

// Run produces the requested document for req.UserID, stores it under its
// deterministic key and returns it according to req.Delivery. Errors are
// *failure.Error values.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, failure.New(failure.KindInput, "validate", "parameter 'user_id' is required")
	}
	if req.Delivery == "" {
		req.Delivery = DeliveryStream
	}

	run := models.ValidationRun{
		RunID:    uuid.NewString(),
		UserID:   req.UserID,
		DocType:  string(req.DocType),
		Delivery: string(req.Delivery),
	}
	logCtx := slog.With("runId", run.RunID, "userId", req.UserID, "docType", req.DocType, "delivery", req.Delivery)
	logCtx.Info("Starting validation run.")
	p.startRun(ctx, logCtx, run)

	res, err := p.run(ctx, logCtx, req)
	if err != nil {
		logCtx.Error("Validation run failed.", "kind", failure.KindOf(err).String(), "error", err)
		run.Status = models.RunStatusFailed
		run.ErrorKind = failure.KindOf(err).String()
		run.ErrorDetails = err.Error()
		p.finishRun(ctx, logCtx, run)
		return nil, err
	}

	res.RunID = run.RunID
	run.Status = models.RunStatusSucceeded
	run.ObjectKey = res.Key
	run.PageCount = res.PageCount
	p.finishRun(ctx, logCtx, run)
	logCtx.Info("Validation run complete.", "key", res.Key, "pageCount", res.PageCount)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logCtx *slog.Logger, req Request) (*Result, error) {
	rec, err := p.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	key := models.ObjectKey(req.DocType, req.UserID)
	var gen generated
	switch req.DocType {
	case models.DocTypeINE:
		gen, err = p.generateINE(ctx, logCtx, rec, key)
	case models.DocTypeCURP:
		gen, err = p.generateCURP(ctx, logCtx, rec, key)
	}
	if err != nil {
		return nil, err
	}
	return p.deliver(ctx, logCtx, req, gen)
}

func (p *Pipeline) lookup(ctx context.Context, req Request) (*models.OCRRecord, error) {
	op := string(req.DocType)
	if _, err := models.ParseDocType(op); err != nil {
		return nil, failure.Wrap(failure.KindInput, "validate", "unsupported document type", err)
	}
	rec, err := p.deps.Records.FindByUserID(ctx, req.UserID)
	if errors.Is(err, db.ErrRecordNotFound) {
		return nil, failure.Wrap(failure.KindNotFound, op, "no information found for user", err)
	}
	if err != nil {
		return nil, failure.Wrap(failure.KindDatabase, op, "failed to query OCR record", err)
	}
	return rec, nil
}

func (p *Pipeline) store(ctx context.Context, logCtx *slog.Logger, op, key string, r io.Reader) error {
	if err := p.deps.Artifacts.Put(ctx, key, r); err != nil {
		return failure.Wrap(failure.KindStorage, op, "failed to store document", err)
	}
	logCtx.Info("Document stored.", "key", key)
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, logCtx *slog.Logger, req Request, gen generated) (*Result, error) {
	op := string(req.DocType)
	res := &Result{
		Key:       gen.key,
		FileName:  models.FileName(req.DocType, req.UserID),
		PageCount: gen.pageCount,
	}
	switch req.Delivery {
	case DeliveryLink:
		expires := p.now().Add(p.config.LinkTTL)
		link, err := p.deps.Artifacts.SignedURL(ctx, gen.key, p.config.LinkTTL)
		if err != nil {
			return nil, failure.Wrap(failure.KindStorage, op, "could not generate download URL", err)
		}
		res.DownloadURL = link
		res.ExpiresAt = expires
	default:
		a, err := p.deps.Artifacts.Get(ctx, gen.key)
		if err != nil {
			return nil, failure.Wrap(failure.KindStorage, op, "could not retrieve document from storage", err)
		}
		res.Artifact = a
	}
	logCtx.Debug("Document delivered.", "key", gen.key)
	return res, nil
}

func (p *Pipeline) startRun(ctx context.Context, logCtx *slog.Logger, run models.ValidationRun) {
	if p.deps.Journal == nil {
		return
	}
	if err := p.deps.Journal.Start(ctx, run); err != nil {
		logCtx.Warn("Failed to journal run start.", "error", err)
	}
}

func (p *Pipeline) finishRun(ctx context.Context, logCtx *slog.Logger, run models.ValidationRun) {
	if p.deps.Journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.deps.Journal.Finish(jctx, run); err != nil {
		logCtx.Warn("Failed to journal run outcome.", "status", run.Status, "error", err)
	}
}

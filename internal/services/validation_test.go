package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/identitydocumentflow/internal/browser"
	"github.com/Lllllllleong/identitydocumentflow/internal/captcha"
	"github.com/Lllllllleong/identitydocumentflow/internal/db"
	"github.com/Lllllllleong/identitydocumentflow/internal/failure"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
	"github.com/stretchr/testify/require"
)

const testCURP = "ABCD010101HDFLNR09"

var fakePDF = []byte("%PDF-1.7 fake document")

type fakeRecords struct {
	rec *models.OCRRecord
	err error
}

func (f *fakeRecords) FindByUserID(_ context.Context, userID string) (*models.OCRRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.rec == nil || f.rec.UserID != userID {
		return nil, db.ErrRecordNotFound
	}
	return f.rec, nil
}

type fakeSolver struct {
	token   string
	err     error
	calls   int
	siteURL string
	siteKey string
}

func (f *fakeSolver) Solve(_ context.Context, siteURL, siteKey string) (string, error) {
	f.calls++
	f.siteURL, f.siteKey = siteURL, siteKey
	return f.token, f.err
}

type fakeRenderer struct {
	err error

	ineCalls int
	ineReq   browser.INERequest

	curpCalls int
	curp      string
	dir       string
}

func (f *fakeRenderer) RenderINE(_ context.Context, req browser.INERequest) ([]byte, error) {
	f.ineCalls++
	f.ineReq = req
	if f.err != nil {
		return nil, f.err
	}
	return fakePDF, nil
}

func (f *fakeRenderer) DownloadCURP(_ context.Context, curp, dir string) (string, error) {
	f.curpCalls++
	f.curp = curp
	f.dir = dir
	// The browser writes into dir before failing as often as not.
	path := filepath.Join(dir, "curp.pdf")
	if err := os.WriteFile(path, fakePDF, 0o600); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return path, nil
}

type memObject struct {
	data        []byte
	contentType string
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	putErr  error
	getErr  error
	signErr error
	puts    int
}

func newMemStore() *memStore { return &memStore{objects: map[string]memObject{}} }

func (s *memStore) Put(_ context.Context, key string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = memObject{data: data, contentType: models.PDFContentType}
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: not found", key)
	}
	return &models.Artifact{
		Key:         key,
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

func (s *memStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return fmt.Sprintf("https://bucket.example/%s?expires=%d", key, int(ttl.Seconds())), nil
}

type fakeJournal struct {
	started  []models.ValidationRun
	finished []models.ValidationRun
	err      error
}

func (j *fakeJournal) Start(_ context.Context, run models.ValidationRun) error {
	j.started = append(j.started, run)
	return j.err
}

func (j *fakeJournal) Finish(_ context.Context, run models.ValidationRun) error {
	j.finished = append(j.finished, run)
	return j.err
}

type fixture struct {
	records  *fakeRecords
	solver   *fakeSolver
	renderer *fakeRenderer
	store    *memStore
	journal  *fakeJournal
	scratch  string
	pipeline *Pipeline
}

func setup(t *testing.T, rec *models.OCRRecord) *fixture {
	f := &fixture{
		records:  &fakeRecords{rec: rec},
		solver:   &fakeSolver{token: "token-xyz"},
		renderer: &fakeRenderer{},
		store:    newMemStore(),
		journal:  &fakeJournal{},
		scratch:  t.TempDir(),
	}
	f.pipeline = NewPipeline(Dependencies{
		Records:   f.records,
		Solver:    f.solver,
		Renderer:  f.renderer,
		Artifacts: f.store,
		Journal:   f.journal,
	}, PipelineConfig{ScratchRoot: f.scratch, LinkTTL: time.Hour})
	f.pipeline.inspect = func(rs io.ReadSeeker) (int, error) {
		data, err := io.ReadAll(rs)
		if err != nil {
			return 0, err
		}
		if !bytes.HasPrefix(data, []byte("%PDF")) {
			return 0, errors.New("not a pdf")
		}
		return 1, nil
	}
	return f
}

// requireScratchClean asserts no per-run directory survived.
func (f *fixture) requireScratchClean(t *testing.T) {
	t.Helper()
	if f.renderer.dir != "" {
		_, err := os.Stat(f.renderer.dir)
		require.True(t, os.IsNotExist(err), "scratch dir %s survived", f.renderer.dir)
	}
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func curpRecord(userID string) *models.OCRRecord {
	return &models.OCRRecord{ID: 1, UserID: userID, DataINE: models.OCRFields{"curp": testCURP}}
}

func ineRecord(userID string) *models.OCRRecord {
	return &models.OCRRecord{ID: 2, UserID: userID, DataINEReverso: models.OCRFields{
		"identificador": "1234567890",
		"code_ocr":      "IDMX1234567",
	}}
}

func TestCURPStreamsDocument(t *testing.T) {
	f := setup(t, curpRecord("42"))

	res, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP, Delivery: DeliveryStream})
	require.NoError(t, err)
	defer res.Artifact.Body.Close()

	require.Equal(t, testCURP, f.renderer.curp)
	require.Equal(t, "user_42/validacion_curp_42.pdf", res.Key)
	require.Equal(t, "validacion_curp_42.pdf", res.FileName)
	require.Equal(t, models.PDFContentType, res.Artifact.ContentType)
	body, err := io.ReadAll(res.Artifact.Body)
	require.NoError(t, err)
	require.Equal(t, fakePDF, body)
	require.NotEmpty(t, res.RunID)
	require.Zero(t, f.solver.calls)
	f.requireScratchClean(t)
}

func TestCURPScratchDirRemovedOnFailure(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(f *fixture)
		kind    failure.Kind
	}{
		{
			name:    "browser failure",
			prepare: func(f *fixture) { f.renderer.err = errors.New("waiting for selector #download: context deadline exceeded") },
			kind:    failure.KindAutomation,
		},
		{
			name: "not a pdf",
			prepare: func(f *fixture) {
				f.pipeline.inspect = func(io.ReadSeeker) (int, error) { return 0, errors.New("bad xref") }
			},
			kind: failure.KindAutomation,
		},
		{
			name:    "upload failure",
			prepare: func(f *fixture) { f.store.putErr = errors.New("access denied") },
			kind:    failure.KindStorage,
		},
		{
			name:    "retrieve failure",
			prepare: func(f *fixture) { f.store.getErr = errors.New("throttled") },
			kind:    failure.KindStorage,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t, curpRecord("42"))
			tc.prepare(f)

			_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP})
			require.Error(t, err)
			require.Equal(t, tc.kind, failure.KindOf(err))
			require.Equal(t, 1, f.renderer.curpCalls)
			f.requireScratchClean(t)
		})
	}
}

func TestMissingRecordSkipsBrowserAndStorage(t *testing.T) {
	for _, docType := range []models.DocType{models.DocTypeCURP, models.DocTypeINE} {
		t.Run(string(docType), func(t *testing.T) {
			f := setup(t, nil)

			_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: docType})
			require.Equal(t, failure.KindNotFound, failure.KindOf(err))
			require.Equal(t, 404, failure.HTTPStatus(err))
			require.Zero(t, f.solver.calls)
			require.Zero(t, f.renderer.curpCalls+f.renderer.ineCalls)
			require.Zero(t, f.store.puts)
			f.requireScratchClean(t)
		})
	}
}

func TestEmptyBlobIsNotFound(t *testing.T) {
	f := setup(t, &models.OCRRecord{UserID: "42", DataINE: models.OCRFields{"curp": testCURP}})

	_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeINE})
	require.Equal(t, failure.KindNotFound, failure.KindOf(err))
	require.Zero(t, f.solver.calls)
}

func TestMissingCURPIsInputError(t *testing.T) {
	f := setup(t, &models.OCRRecord{UserID: "42", DataINE: models.OCRFields{"nombre": "ANA"}})

	_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP})
	require.Equal(t, failure.KindInput, failure.KindOf(err))
	require.Equal(t, "CURP not found in INE data", failure.Detail(err))
	require.Zero(t, f.renderer.curpCalls)
	require.Zero(t, f.store.puts)
	f.requireScratchClean(t)
}

func TestINEMissingIdentificadorSkipsCaptcha(t *testing.T) {
	f := setup(t, &models.OCRRecord{UserID: "42", DataINEReverso: models.OCRFields{"code_ocr": "IDMX1234567"}})

	_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeINE})
	require.Equal(t, failure.KindInput, failure.KindOf(err))
	require.Equal(t, 400, failure.HTTPStatus(err))
	require.Contains(t, strings.ToLower(failure.Detail(err)), "incomplete")
	require.Zero(t, f.solver.calls)
	require.Zero(t, f.renderer.ineCalls)
}

func TestINEStreamsDocument(t *testing.T) {
	f := setup(t, ineRecord("7"))

	res, err := f.pipeline.Run(context.Background(), Request{UserID: "7", DocType: models.DocTypeINE})
	require.NoError(t, err)
	defer res.Artifact.Body.Close()

	require.Equal(t, browser.INESiteURL, f.solver.siteURL)
	require.Equal(t, browser.INESiteKey, f.solver.siteKey)
	require.Equal(t, browser.INERequest{CIC: "123456789", IDCiudadano: "1234567", RecaptchaToken: "token-xyz"}, f.renderer.ineReq)
	require.Equal(t, "user_7/validacion_ine_7.pdf", res.Key)
	require.Equal(t, "validacion_ine_7.pdf", res.FileName)
	require.Equal(t, 1, res.PageCount)
}

func TestINECaptchaFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   failure.Kind
		status int
	}{
		{"timeout", captcha.ErrTimeout, failure.KindUpstreamTimeout, 504},
		{"solver error", fmt.Errorf("%w: ERROR_CAPTCHA_UNSOLVABLE", captcha.ErrSolver), failure.KindUpstream, 502},
		{"rejected", fmt.Errorf("%w: ERROR_ZERO_BALANCE", captcha.ErrSubmitRejected), failure.KindUpstream, 502},
		{"unavailable", fmt.Errorf("%w: connection refused", captcha.ErrUnavailable), failure.KindUpstream, 502},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t, ineRecord("7"))
			f.solver.err = tc.err

			_, err := f.pipeline.Run(context.Background(), Request{UserID: "7", DocType: models.DocTypeINE})
			require.Equal(t, tc.kind, failure.KindOf(err))
			require.Equal(t, tc.status, failure.HTTPStatus(err))
			require.ErrorIs(t, err, tc.err)
			require.Zero(t, f.renderer.ineCalls)
			require.Zero(t, f.store.puts)
		})
	}
}

func TestINEAutomationFailureIsNotStorage(t *testing.T) {
	f := setup(t, ineRecord("7"))
	f.renderer.err = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err := f.pipeline.Run(context.Background(), Request{UserID: "7", DocType: models.DocTypeINE})
	require.Equal(t, failure.KindAutomation, failure.KindOf(err))
	require.Contains(t, failure.Detail(err), "ERR_NAME_NOT_RESOLVED")
	require.Zero(t, f.store.puts)
}

func TestLinkDelivery(t *testing.T) {
	f := setup(t, curpRecord("42"))
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.pipeline.now = func() time.Time { return now }

	res, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP, Delivery: DeliveryLink})
	require.NoError(t, err)
	require.Nil(t, res.Artifact)
	require.Equal(t, "https://bucket.example/user_42/validacion_curp_42.pdf?expires=3600", res.DownloadURL)
	require.Equal(t, now.Add(time.Hour), res.ExpiresAt)
	f.requireScratchClean(t)
}

func TestLinkDeliveryFailure(t *testing.T) {
	f := setup(t, curpRecord("42"))
	f.store.signErr = errors.New("no signing credentials")

	_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP, Delivery: DeliveryLink})
	require.Equal(t, failure.KindStorage, failure.KindOf(err))
	f.requireScratchClean(t)
}

func TestDatabaseFailure(t *testing.T) {
	f := setup(t, nil)
	f.records.err = errors.New("dial tcp: connection refused")

	_, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP})
	require.Equal(t, failure.KindDatabase, failure.KindOf(err))
	require.Equal(t, 500, failure.HTTPStatus(err))
}

func TestRequestValidation(t *testing.T) {
	f := setup(t, curpRecord("42"))

	_, err := f.pipeline.Run(context.Background(), Request{DocType: models.DocTypeCURP})
	require.Equal(t, failure.KindInput, failure.KindOf(err))

	_, err = f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: "passport"})
	require.Equal(t, failure.KindInput, failure.KindOf(err))
	require.Zero(t, f.renderer.curpCalls)
}

func TestJournal(t *testing.T) {
	f := setup(t, curpRecord("42"))

	res, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP, Delivery: DeliveryLink})
	require.NoError(t, err)
	require.Len(t, f.journal.started, 1)
	require.Len(t, f.journal.finished, 1)
	require.Equal(t, res.RunID, f.journal.started[0].RunID)
	require.Equal(t, models.RunStatusSucceeded, f.journal.finished[0].Status)
	require.Equal(t, "user_42/validacion_curp_42.pdf", f.journal.finished[0].ObjectKey)

	_, err = f.pipeline.Run(context.Background(), Request{UserID: "99", DocType: models.DocTypeCURP})
	require.Error(t, err)
	require.Len(t, f.journal.finished, 2)
	require.Equal(t, models.RunStatusFailed, f.journal.finished[1].Status)
	require.Equal(t, "not_found", f.journal.finished[1].ErrorKind)
}

func TestJournalFailureDoesNotFailRun(t *testing.T) {
	f := setup(t, curpRecord("42"))
	f.journal.err = errors.New("firestore unavailable")

	res, err := f.pipeline.Run(context.Background(), Request{UserID: "42", DocType: models.DocTypeCURP, Delivery: DeliveryLink})
	require.NoError(t, err)
	require.NotEmpty(t, res.DownloadURL)
}

func TestInspectPDFRejectsGarbage(t *testing.T) {
	_, err := inspectPDF(bytes.NewReader([]byte("<html>captcha required</html>")))
	require.Error(t, err)
}

package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrObjectNotFound is returned by ArtifactStore.Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// NewStorageClient creates a GCS client, optionally from an explicit
// service-account key file instead of application default credentials.
func NewStorageClient(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*storage.Client, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return client, nil
}

// ArtifactStore keeps generated documents in a single GCS bucket.
type ArtifactStore struct {
	bucket *storage.BucketHandle
	name   string
}

func NewArtifactStore(client *storage.Client, bucket string) *ArtifactStore {
	return &ArtifactStore{bucket: client.Bucket(bucket), name: bucket}
}

// Put writes r to key as application/pdf, replacing any previous object.
func (s *ArtifactStore) Put(ctx context.Context, key string, r io.Reader) error {
	writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
	defer cancel()

	w := s.bucket.Object(key).NewWriter(writeCtx)
	w.ContentType = models.PDFContentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		slog.Error("Failed to copy content to GCS object.", "gcsObject", key, "error", err)
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.name, key, err)
	}
	if err := w.Close(); err != nil {
		slog.Error("Failed to close GCS writer.", "gcsObject", key, "error", err)
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.name, key, err)
	}
	return nil
}

// Get opens key for reading.
func (s *ArtifactStore) Get(ctx context.Context, key string) (*models.Artifact, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.Is(err, storage.ErrObjectNotExist) || (errors.As(err, &gerr) && gerr.Code == http.StatusNotFound) {
			return nil, fmt.Errorf("gs://%s/%s: %w", s.name, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.name, key, err)
	}
	contentType := r.Attrs.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &models.Artifact{
		Key:         key,
		ContentType: contentType,
		Size:        r.Attrs.Size,
		Body:        r,
	}, nil
}

// SignedURL returns a V4 signed GET link valid for ttl. Signing credentials
// are detected from the client.
func (s *ArtifactStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign gs://%s/%s: %w", s.name, key, err)
	}
	return url, nil
}

// Package artifacts selects and builds the object store generated documents
// are persisted in.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Lllllllleong/identitydocumentflow/internal/config"
	"github.com/Lllllllleong/identitydocumentflow/internal/gcp"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
)

// ErrNotFound is wrapped by Get when the key does not exist, whatever the backend.
var ErrNotFound = gcp.ErrObjectNotFound

// Store is implemented by every backend.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (*models.Artifact, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Open builds the backend named by cfg.Backend. The returned close func
// releases the backend's client and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendS3:
		client, err := NewS3Client(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, noop, err
		}
		return NewS3Store(client, cfg.Bucket), noop, nil
	case config.BackendGCS:
		client, err := gcp.NewStorageClient(ctx, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, noop, err
		}
		return gcp.NewArtifactStore(client, cfg.Bucket), client.Close, nil
	case config.BackendLocal:
		store, err := NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Package db reads the OCR records produced by the upstream OCR stage.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/identitydocumentflow/internal/config"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
	_ "github.com/lib/pq"
)

// ErrRecordNotFound is returned when no data_ocr row exists for a user.
var ErrRecordNotFound = errors.New("ocr record not found")

// Open creates the Postgres pool and checks connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	pool, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// RecordRepository is a read-only view of the data_ocr table.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const selectByUser = `
	SELECT id, id_user, data_ine, data_domicilio, data_constancia, data_ine_reverso
	FROM data_ocr
	WHERE id_user = $1
	ORDER BY id
	LIMIT 1`

// FindByUserID returns the first data_ocr row for userID.
func (r *RecordRepository) FindByUserID(ctx context.Context, userID string) (*models.OCRRecord, error) {
	var (
		rec                                 models.OCRRecord
		ine, domicilio, constancia, reverso []byte
	)
	err := r.db.QueryRowContext(ctx, selectByUser, userID).
		Scan(&rec.ID, &rec.UserID, &ine, &domicilio, &constancia, &reverso)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query data_ocr: %w", err)
	}

	blobs := []struct {
		name string
		raw  []byte
		dst  *models.OCRFields
	}{
		{"data_ine", ine, &rec.DataINE},
		{"data_domicilio", domicilio, &rec.DataDomicilio},
		{"data_constancia", constancia, &rec.DataConstancia},
		{"data_ine_reverso", reverso, &rec.DataINEReverso},
	}
	for _, b := range blobs {
		fields, err := decodeFields(b.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s for user %s: %w", b.name, userID, err)
		}
		if fields == nil && len(b.raw) > 0 && string(b.raw) != "null" {
			slog.Warn("Ignoring non-object OCR column.", "column", b.name, "userId", userID)
		}
		*b.dst = fields
	}
	return &rec, nil
}

// decodeFields returns nil for an empty column or a JSON value that is not an
// object; only malformed JSON is an error.
func decodeFields(raw []byte) (models.OCRFields, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	return models.OCRFields(obj), nil
}

// Ping reports whether the pool can reach the database.
func (r *RecordRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

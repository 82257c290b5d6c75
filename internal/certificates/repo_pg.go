package certificates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"esign-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres. The unique envelope constraint is
// what makes generation idempotent under races.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, cert Certificate) error {
	q := db.QuerierFrom(ctx, r.DB)
	data, err := json.Marshal(cert.Data)
	if err != nil {
		return fmt.Errorf("marshal certificate data: %w", err)
	}
	const query = `
INSERT INTO certificates (id, envelope_id, data, pdf_storage_key, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err = q.ExecContext(ctx, query, cert.ID, cert.EnvelopeID, data, cert.PDFStorageKey, cert.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (r *PGRepo) GetByEnvelope(ctx context.Context, envelopeID string) (Certificate, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT id, envelope_id, data, pdf_storage_key, created_at
FROM certificates
WHERE envelope_id = $1
LIMIT 1`
	var cert Certificate
	var data []byte
	err := q.QueryRowContext(ctx, query, envelopeID).Scan(
		&cert.ID, &cert.EnvelopeID, &data, &cert.PDFStorageKey, &cert.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Certificate{}, ErrNotFound
		}
		return Certificate{}, err
	}
	if err := json.Unmarshal(data, &cert.Data); err != nil {
		return Certificate{}, fmt.Errorf("decode certificate data: %w", err)
	}
	cert.CreatedAt = cert.CreatedAt.UTC()
	return cert, nil
}

var _ Repo = (*PGRepo)(nil)

package documents

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const docColumns = `id, seq, owner_id, envelope_id, position, original_filename, storage_key, size_bytes, mime_type, page_count, created_at`

// Create inserts a new document into its owner's pool.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (id, owner_id, envelope_id, position, original_filename, storage_key, size_bytes, mime_type, page_count, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`
	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = MimePDF
	}
	_, err := r.DB.ExecContext(ctx, query,
		doc.ID,
		doc.OwnerID,
		doc.EnvelopeID,
		doc.Position,
		doc.OriginalFilename,
		doc.StorageKey,
		doc.SizeBytes,
		mimeType,
		doc.PageCount,
		doc.CreatedAt,
	)
	return err
}

// GetByID fetches a document owned by ownerID.
func (r *PGRepo) GetByID(ctx context.Context, ownerID, documentID string) (Document, error) {
	const query = `
SELECT ` + docColumns + `
FROM documents
WHERE owner_id = $1 AND id = $2 AND deleted_at IS NULL
LIMIT 1`
	return scanDocument(r.DB.QueryRowContext(ctx, query, ownerID, documentID))
}

// ListByOwner lists pool documents newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT ` + docColumns + `
FROM documents
WHERE owner_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ListByEnvelope lists documents bound to an envelope in attachment order.
func (r *PGRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]Document, error) {
	const query = `
SELECT ` + docColumns + `
FROM documents
WHERE envelope_id = $1 AND deleted_at IS NULL
ORDER BY position ASC, seq ASC`
	rows, err := r.DB.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// Attach binds a pool document to an envelope at the given position.
func (r *PGRepo) Attach(ctx context.Context, ownerID, documentID, envelopeID string, position int) error {
	const query = `
UPDATE documents
SET envelope_id = $1, position = $2
WHERE owner_id = $3 AND id = $4 AND envelope_id IS NULL AND deleted_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, envelopeID, position, ownerID, documentID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrAttached
	}
	return nil
}

// Detach returns a document to its owner's pool.
func (r *PGRepo) Detach(ctx context.Context, documentID, envelopeID string) error {
	const query = `
UPDATE documents
SET envelope_id = NULL, position = 0
WHERE id = $1 AND envelope_id = $2`
	res, err := r.DB.ExecContext(ctx, query, documentID, envelopeID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var envelopeID sql.NullString
	err := row.Scan(
		&doc.ID,
		&doc.Seq,
		&doc.OwnerID,
		&envelopeID,
		&doc.Position,
		&doc.OriginalFilename,
		&doc.StorageKey,
		&doc.SizeBytes,
		&doc.MimeType,
		&doc.PageCount,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	if envelopeID.Valid {
		doc.EnvelopeID = envelopeID.String
	}
	return doc, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)

package signing

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"esign-backend/internal/shared/storage/db"
)

// PGEvidenceRepo implements EvidenceRepo using Postgres.
type PGEvidenceRepo struct {
	DB *sql.DB
}

const evidenceColumns = `id, envelope_id, recipient_id, seq, status, provider_id, payload, payload_hash, signature, tsa_token, cert_chain, created_at`

var errEvidenceNotFound = errors.New("evidence not found")

func (r *PGEvidenceRepo) Stage(ctx context.Context, ev Evidence) (Evidence, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
INSERT INTO evidences (id, envelope_id, recipient_id, seq, status, payload, payload_hash, created_at)
VALUES ($1, $2, $3,
        (SELECT COALESCE(MAX(seq), 0) + 1 FROM evidences WHERE envelope_id = $2 AND recipient_id = $3),
        $4, $5, $6, $7)
RETURNING seq`
	err := q.QueryRowContext(ctx, query,
		ev.ID,
		ev.EnvelopeID,
		ev.RecipientID,
		string(EvidenceStaged),
		ev.Payload,
		ev.PayloadHash,
		ev.CreatedAt,
	).Scan(&ev.Seq)
	if err != nil {
		return Evidence{}, err
	}
	ev.Status = EvidenceStaged
	return ev, nil
}

func (r *PGEvidenceRepo) Complete(ctx context.Context, id string, res Result) error {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
UPDATE evidences
SET status = 'complete', provider_id = $2, signature = $3, tsa_token = $4, cert_chain = $5
WHERE id = $1 AND status = 'staged'`
	out, err := q.ExecContext(ctx, query,
		id,
		res.ProviderID,
		res.Signature,
		res.TSAToken,
		strings.Join(res.CertChain, "\n"),
	)
	if err != nil {
		return err
	}
	affected, _ := out.RowsAffected()
	if affected == 0 {
		return errEvidenceNotFound
	}
	return nil
}

func (r *PGEvidenceRepo) MarkOrphan(ctx context.Context, id string) error {
	q := db.QuerierFrom(ctx, r.DB)
	out, err := q.ExecContext(ctx,
		`UPDATE evidences SET status = 'orphan_unsigned' WHERE id = $1 AND status = 'staged'`, id)
	if err != nil {
		return err
	}
	affected, _ := out.RowsAffected()
	if affected == 0 {
		return errEvidenceNotFound
	}
	return nil
}

func (r *PGEvidenceRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]Evidence, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + evidenceColumns + `
FROM evidences
WHERE envelope_id = $1
ORDER BY created_at ASC, seq ASC`
	rows, err := q.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PGEvidenceRepo) LatestComplete(ctx context.Context, envelopeID, recipientID string) (Evidence, bool, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + evidenceColumns + `
FROM evidences
WHERE envelope_id = $1 AND recipient_id = $2 AND status = 'complete'
ORDER BY seq DESC
LIMIT 1`
	ev, err := scanEvidence(q.QueryRowContext(ctx, query, envelopeID, recipientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Evidence{}, false, nil
		}
		return Evidence{}, false, err
	}
	return ev, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(row rowScanner) (Evidence, error) {
	var ev Evidence
	var status string
	err := row.Scan(
		&ev.ID,
		&ev.EnvelopeID,
		&ev.RecipientID,
		&ev.Seq,
		&status,
		&ev.ProviderID,
		&ev.Payload,
		&ev.PayloadHash,
		&ev.Signature,
		&ev.TSAToken,
		&ev.CertChain,
		&ev.CreatedAt,
	)
	if err != nil {
		return Evidence{}, err
	}
	ev.Status = EvidenceStatus(status)
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

var _ EvidenceRepo = (*PGEvidenceRepo)(nil)

package envelopes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"esign-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres. Every method resolves its querier
// from the context so calls participate in an enclosing Runner transaction.
type PGRepo struct {
	DB *sql.DB
}

const envColumns = `id, seq, sender_id, title, subject, message, priority, status, reminder_cadence, metadata, void_reason, expires_at, sent_at, completed_at, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, env Envelope) (Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)
	metadataJSON, err := marshalJSONB(env.Metadata)
	if err != nil {
		return Envelope{}, err
	}
	const query = `
INSERT INTO envelopes (id, sender_id, title, subject, message, priority, status, reminder_cadence, metadata, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
RETURNING ` + envColumns
	return scanEnvelope(q.QueryRowContext(ctx, query,
		env.ID,
		env.SenderID,
		env.Title,
		env.Subject,
		env.Message,
		string(env.Priority),
		string(env.Status),
		string(env.ReminderCadence),
		metadataJSON,
		env.ExpiresAt,
		env.CreatedAt,
	))
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + envColumns + `
FROM envelopes
WHERE id = $1
LIMIT 1`
	return scanEnvelope(q.QueryRowContext(ctx, query, id))
}

func (r *PGRepo) ListBySender(ctx context.Context, senderID string, filter ListFilter) ([]Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
SELECT ` + envColumns + `
FROM envelopes
WHERE sender_id = $1`
	args := []any{senderID}
	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvelopes(rows)
}

func (r *PGRepo) Update(ctx context.Context, id string, patch EnvelopePatch) (Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)

	set := []string{"updated_at = now()"}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Subject != nil {
		add("subject", *patch.Subject)
	}
	if patch.Message != nil {
		add("message", *patch.Message)
	}
	if patch.Priority != nil {
		add("priority", string(*patch.Priority))
	}
	if patch.ReminderCadence != nil {
		add("reminder_cadence", string(*patch.ReminderCadence))
	}
	if patch.Metadata != nil {
		metadataJSON, err := marshalJSONB(patch.Metadata)
		if err != nil {
			return Envelope{}, err
		}
		add("metadata", metadataJSON)
	}
	if patch.ClearExpiresAt {
		set = append(set, "expires_at = NULL")
	} else if patch.ExpiresAt != nil {
		add("expires_at", *patch.ExpiresAt)
	}

	args = append(args, id)
	query := fmt.Sprintf(`
UPDATE envelopes
SET %s
WHERE id = $%d
RETURNING `+envColumns, strings.Join(set, ", "), len(args))
	return scanEnvelope(q.QueryRowContext(ctx, query, args...))
}

func (r *PGRepo) SetStatus(ctx context.Context, id string, change StatusChange) (Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
UPDATE envelopes
SET status = $2,
    void_reason = CASE WHEN $3 <> '' THEN $3 ELSE void_reason END,
    sent_at = COALESCE($4, sent_at),
    completed_at = COALESCE($5, completed_at),
    updated_at = now()
WHERE id = $1
RETURNING ` + envColumns
	return scanEnvelope(q.QueryRowContext(ctx, query,
		id,
		string(change.Status),
		change.VoidReason,
		change.SentAt,
		change.CompletedAt,
	))
}

func (r *PGRepo) Delete(ctx context.Context, id string) error {
	q := db.QuerierFrom(ctx, r.DB)
	res, err := q.ExecContext(ctx, `DELETE FROM envelopes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ListByStatusBefore(ctx context.Context, statuses []Status, cutoff time.Time) ([]Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	const query = `
SELECT ` + envColumns + `
FROM envelopes
WHERE status = ANY($1) AND expires_at IS NOT NULL AND expires_at <= $2
ORDER BY expires_at ASC`
	rows, err := q.QueryContext(ctx, query, pgTextArray(names), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvelopes(rows)
}

func (r *PGRepo) ListWithReminderCadence(ctx context.Context, statuses []Status) ([]Envelope, error) {
	q := db.QuerierFrom(ctx, r.DB)
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	const query = `
SELECT ` + envColumns + `
FROM envelopes
WHERE status = ANY($1) AND reminder_cadence <> 'none'
ORDER BY sent_at ASC NULLS LAST`
	rows, err := q.QueryContext(ctx, query, pgTextArray(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvelopes(rows)
}

const recColumns = `id, envelope_id, email, name, role, routing_order, permissions, auth_method, message, reminder_enabled, status, access_token, token_expires_at, viewed_at, signed_at, declined_at, decline_reason, created_at`

func (r *PGRepo) AddRecipient(ctx context.Context, rec Recipient) (Recipient, error) {
	q := db.QuerierFrom(ctx, r.DB)
	permsJSON, err := marshalJSONB(rec.Permissions)
	if err != nil {
		return Recipient{}, err
	}
	const query = `
INSERT INTO recipients (id, envelope_id, email, name, role, routing_order, permissions, auth_method, message, reminder_enabled, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + recColumns
	return scanRecipient(q.QueryRowContext(ctx, query,
		rec.ID,
		rec.EnvelopeID,
		rec.Email,
		rec.Name,
		string(rec.Role),
		rec.RoutingOrder,
		permsJSON,
		string(rec.AuthMethod),
		rec.Message,
		rec.ReminderEnabled,
		string(rec.Status),
		rec.CreatedAt,
	))
}

func (r *PGRepo) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + recColumns + `
FROM recipients
WHERE id = $1
LIMIT 1`
	return scanRecipient(q.QueryRowContext(ctx, query, id))
}

func (r *PGRepo) ListRecipients(ctx context.Context, envelopeID string) ([]Recipient, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + recColumns + `
FROM recipients
WHERE envelope_id = $1
ORDER BY routing_order ASC, created_at ASC`
	rows, err := q.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepo) RemoveRecipient(ctx context.Context, id string) error {
	q := db.QuerierFrom(ctx, r.DB)
	res, err := q.ExecContext(ctx, `DELETE FROM recipients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) SetRecipientStatus(ctx context.Context, id string, status RecipientStatus, at time.Time) (Recipient, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
UPDATE recipients
SET status = $2,
    viewed_at = CASE WHEN $2 = 'viewed' THEN $3 ELSE viewed_at END,
    signed_at = CASE WHEN $2 = 'signed' THEN $3 ELSE signed_at END
WHERE id = $1
RETURNING ` + recColumns
	return scanRecipient(q.QueryRowContext(ctx, query, id, string(status), at))
}

func (r *PGRepo) SetRecipientDeclined(ctx context.Context, id string, reason string, at time.Time) (Recipient, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
UPDATE recipients
SET status = 'declined', decline_reason = $2, declined_at = $3
WHERE id = $1
RETURNING ` + recColumns
	return scanRecipient(q.QueryRowContext(ctx, query, id, reason, at))
}

func (r *PGRepo) SetAccessToken(ctx context.Context, id string, token string, expiresAt time.Time) error {
	q := db.QuerierFrom(ctx, r.DB)
	res, err := q.ExecContext(ctx,
		`UPDATE recipients SET access_token = $2, token_expires_at = $3 WHERE id = $1`,
		id, token, expiresAt)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const fieldColumns = `id, envelope_id, document_id, recipient_id, type, page, x, y, width, height, required, value, default_value, validation, signed_at, created_at`

func (r *PGRepo) AddField(ctx context.Context, f Field) (Field, error) {
	q := db.QuerierFrom(ctx, r.DB)
	validationJSON, err := marshalJSONB(f.Validation)
	if err != nil {
		return Field{}, err
	}
	const query = `
INSERT INTO fields (id, envelope_id, document_id, recipient_id, type, page, x, y, width, height, required, default_value, validation, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + fieldColumns
	return scanField(q.QueryRowContext(ctx, query,
		f.ID,
		f.EnvelopeID,
		f.DocumentID,
		f.RecipientID,
		string(f.Type),
		f.Page,
		f.X,
		f.Y,
		f.Width,
		f.Height,
		f.Required,
		f.DefaultValue,
		validationJSON,
		f.CreatedAt,
	))
}

func (r *PGRepo) GetField(ctx context.Context, id string) (Field, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + fieldColumns + `
FROM fields
WHERE id = $1
LIMIT 1`
	return scanField(q.QueryRowContext(ctx, query, id))
}

func (r *PGRepo) ListFields(ctx context.Context, envelopeID string) ([]Field, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + fieldColumns + `
FROM fields
WHERE envelope_id = $1
ORDER BY created_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PGRepo) UpdateField(ctx context.Context, id string, patch FieldPatch) (Field, error) {
	q := db.QuerierFrom(ctx, r.DB)

	var set []string
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.RecipientID != nil {
		add("recipient_id", *patch.RecipientID)
	}
	if patch.Page != nil {
		add("page", *patch.Page)
	}
	if patch.X != nil {
		add("x", *patch.X)
	}
	if patch.Y != nil {
		add("y", *patch.Y)
	}
	if patch.Width != nil {
		add("width", *patch.Width)
	}
	if patch.Height != nil {
		add("height", *patch.Height)
	}
	if patch.Required != nil {
		add("required", *patch.Required)
	}
	if patch.DefaultValue != nil {
		add("default_value", *patch.DefaultValue)
	}
	if patch.Validation != nil {
		validationJSON, err := marshalJSONB(patch.Validation)
		if err != nil {
			return Field{}, err
		}
		add("validation", validationJSON)
	}
	if len(set) == 0 {
		return r.GetField(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`
UPDATE fields
SET %s
WHERE id = $%d
RETURNING `+fieldColumns, strings.Join(set, ", "), len(args))
	return scanField(q.QueryRowContext(ctx, query, args...))
}

func (r *PGRepo) SetFieldValue(ctx context.Context, id string, value string, signedAt *time.Time) (Field, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
UPDATE fields
SET value = $2, signed_at = COALESCE($3, signed_at)
WHERE id = $1
RETURNING ` + fieldColumns
	return scanField(q.QueryRowContext(ctx, query, id, value, signedAt))
}

func (r *PGRepo) RemoveField(ctx context.Context, id string) error {
	q := db.QuerierFrom(ctx, r.DB)
	res, err := q.ExecContext(ctx, `DELETE FROM fields WHERE id = $1`, id)
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

func scanEnvelope(row rowScanner) (Envelope, error) {
	var env Envelope
	var priority, status, cadence string
	var metadataJSON []byte
	var expiresAt, sentAt, completedAt sql.NullTime
	err := row.Scan(
		&env.ID,
		&env.Seq,
		&env.SenderID,
		&env.Title,
		&env.Subject,
		&env.Message,
		&priority,
		&status,
		&cadence,
		&metadataJSON,
		&env.VoidReason,
		&expiresAt,
		&sentAt,
		&completedAt,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Envelope{}, ErrNotFound
		}
		return Envelope{}, err
	}
	env.Priority = Priority(priority)
	env.Status = Status(status)
	env.ReminderCadence = ReminderCadence(cadence)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &env.Metadata); err != nil {
			return Envelope{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	env.ExpiresAt = nullableTime(expiresAt)
	env.SentAt = nullableTime(sentAt)
	env.CompletedAt = nullableTime(completedAt)
	return env, nil
}

func collectEnvelopes(rows *sql.Rows) ([]Envelope, error) {
	var out []Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func scanRecipient(row rowScanner) (Recipient, error) {
	var rec Recipient
	var role, authMethod, status string
	var permsJSON []byte
	var tokenExpiresAt, viewedAt, signedAt, declinedAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.EnvelopeID,
		&rec.Email,
		&rec.Name,
		&role,
		&rec.RoutingOrder,
		&permsJSON,
		&authMethod,
		&rec.Message,
		&rec.ReminderEnabled,
		&status,
		&rec.AccessToken,
		&tokenExpiresAt,
		&viewedAt,
		&signedAt,
		&declinedAt,
		&rec.DeclineReason,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, err
	}
	rec.Role = RecipientRole(role)
	rec.AuthMethod = AuthMethod(authMethod)
	rec.Status = RecipientStatus(status)
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &rec.Permissions); err != nil {
			return Recipient{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	rec.TokenExpiresAt = nullableTime(tokenExpiresAt)
	rec.ViewedAt = nullableTime(viewedAt)
	rec.SignedAt = nullableTime(signedAt)
	rec.DeclinedAt = nullableTime(declinedAt)
	return rec, nil
}

func scanField(row rowScanner) (Field, error) {
	var f Field
	var fieldType string
	var validationJSON []byte
	var signedAt sql.NullTime
	err := row.Scan(
		&f.ID,
		&f.EnvelopeID,
		&f.DocumentID,
		&f.RecipientID,
		&fieldType,
		&f.Page,
		&f.X,
		&f.Y,
		&f.Width,
		&f.Height,
		&f.Required,
		&f.Value,
		&f.DefaultValue,
		&validationJSON,
		&signedAt,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Field{}, ErrNotFound
		}
		return Field{}, err
	}
	f.Type = FieldType(fieldType)
	if len(validationJSON) > 0 {
		if err := json.Unmarshal(validationJSON, &f.Validation); err != nil {
			return Field{}, fmt.Errorf("decode validation: %w", err)
		}
	}
	f.SignedAt = nullableTime(signedAt)
	return f, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

// pgTextArray renders a []string as a Postgres array literal for = ANY($1).
func pgTextArray(items []string) string {
	escaped := make([]string, len(items))
	for i, s := range items {
		escaped[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}

var _ Repo = (*PGRepo)(nil)

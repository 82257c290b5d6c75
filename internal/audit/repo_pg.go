package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"esign-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres. Appends must run inside a Runner
// scope holding the envelope's advisory lock to preserve chain linearity.
type PGRepo struct {
	DB *sql.DB
}

const eventColumns = `id, envelope_id, event_type, category, actor_type, actor_id, metadata, ip_address, user_agent, prev_event_hash, event_hash, created_at`

func (r *PGRepo) Append(ctx context.Context, entry Entry) (Event, error) {
	q := db.QuerierFrom(ctx, r.DB)

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.UTC().Truncate(time.Second)

	prev := ""
	tail, ok, err := r.tail(ctx, q, entry.EnvelopeID)
	if err != nil {
		return Event{}, err
	}
	if ok {
		prev = tail.EventHash
	}

	hash, err := ComputeHash(prev, entry.Type, entry.Metadata, createdAt)
	if err != nil {
		return Event{}, err
	}

	metadataJSON, err := json.Marshal(normalizeMetadata(entry.Metadata))
	if err != nil {
		return Event{}, fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
INSERT INTO audit_events (envelope_id, event_type, category, actor_type, actor_id, metadata, ip_address, user_agent, prev_event_hash, event_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`
	var id int64
	err = q.QueryRowContext(ctx, query,
		entry.EnvelopeID,
		string(entry.Type),
		entry.Category,
		string(entry.ActorType),
		entry.ActorID,
		metadataJSON,
		entry.IPAddress,
		entry.UserAgent,
		prev,
		hash,
		createdAt,
	).Scan(&id)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:            id,
		EnvelopeID:    entry.EnvelopeID,
		Type:          entry.Type,
		Category:      entry.Category,
		ActorType:     entry.ActorType,
		ActorID:       entry.ActorID,
		Metadata:      normalizeMetadata(entry.Metadata),
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
		PrevEventHash: prev,
		EventHash:     hash,
		CreatedAt:     createdAt,
	}, nil
}

func (r *PGRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]Event, error) {
	q := db.QuerierFrom(ctx, r.DB)
	const query = `
SELECT ` + eventColumns + `
FROM audit_events
WHERE envelope_id = $1
ORDER BY id ASC`
	rows, err := q.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PGRepo) Tail(ctx context.Context, envelopeID string) (Event, bool, error) {
	return r.tail(ctx, db.QuerierFrom(ctx, r.DB), envelopeID)
}

func (r *PGRepo) tail(ctx context.Context, q db.Querier, envelopeID string) (Event, bool, error) {
	const query = `
SELECT ` + eventColumns + `
FROM audit_events
WHERE envelope_id = $1
ORDER BY id DESC
LIMIT 1`
	ev, err := scanEvent(q.QueryRowContext(ctx, query, envelopeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	return ev, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var eventType, actorType string
	var metadataJSON []byte
	err := row.Scan(
		&ev.ID,
		&ev.EnvelopeID,
		&eventType,
		&ev.Category,
		&actorType,
		&ev.ActorID,
		&metadataJSON,
		&ev.IPAddress,
		&ev.UserAgent,
		&ev.PrevEventHash,
		&ev.EventHash,
		&ev.CreatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	ev.Type = EventType(eventType)
	ev.ActorType = ActorType(actorType)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

var _ Repo = (*PGRepo)(nil)

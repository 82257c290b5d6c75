package audit

import (
	"context"
	"time"
)

// Entry is the caller-supplied portion of an audit event; hashes and
// ordering are assigned by the repository on append.
type Entry struct {
	EnvelopeID string
	Type       EventType
	Category   string
	ActorType  ActorType
	ActorID    string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// Repo persists the per-envelope hash chain. Append reads the tail hash and
// links the new event; callers serialise appends for one envelope through
// the per-envelope transaction scope.
type Repo interface {
	Append(ctx context.Context, entry Entry) (Event, error)
	ListByEnvelope(ctx context.Context, envelopeID string) ([]Event, error)
	Tail(ctx context.Context, envelopeID string) (Event, bool, error)
}

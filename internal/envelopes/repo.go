package envelopes

import (
	"context"
	"time"
)

// EnvelopePatch carries the mutable draft attributes; nil means unchanged.
type EnvelopePatch struct {
	Title           *string
	Subject         *string
	Message         *string
	Priority        *Priority
	ReminderCadence *ReminderCadence
	Metadata        map[string]any
	ExpiresAt       *time.Time
	ClearExpiresAt  bool
}

// StatusChange records a lifecycle transition together with the timestamps
// and reason that accompany it.
type StatusChange struct {
	Status      Status
	VoidReason  string
	SentAt      *time.Time
	CompletedAt *time.Time
}

// FieldPatch carries mutable field attributes; nil means unchanged.
type FieldPatch struct {
	RecipientID  *string
	Page         *int
	X            *float64
	Y            *float64
	Width        *float64
	Height       *float64
	Required     *bool
	DefaultValue *string
	Validation   map[string]any
}

// ListFilter narrows ListBySender.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Repo persists the envelope aggregate. Mutations that must be atomic with
// audit appends run inside a db.Runner scope; implementations read the
// transaction from the context.
type Repo interface {
	Create(ctx context.Context, env Envelope) (Envelope, error)
	GetByID(ctx context.Context, id string) (Envelope, error)
	ListBySender(ctx context.Context, senderID string, filter ListFilter) ([]Envelope, error)
	Update(ctx context.Context, id string, patch EnvelopePatch) (Envelope, error)
	SetStatus(ctx context.Context, id string, change StatusChange) (Envelope, error)
	Delete(ctx context.Context, id string) error

	// ListByStatusBefore returns envelopes in the given status whose
	// expires_at is at or before the cutoff. Used by the expiration sweep.
	ListByStatusBefore(ctx context.Context, statuses []Status, cutoff time.Time) ([]Envelope, error)

	// ListWithReminderCadence returns envelopes in the given status carrying
	// a reminder cadence other than none. Used by the reminder sweep.
	ListWithReminderCadence(ctx context.Context, statuses []Status) ([]Envelope, error)

	AddRecipient(ctx context.Context, rec Recipient) (Recipient, error)
	GetRecipient(ctx context.Context, id string) (Recipient, error)
	ListRecipients(ctx context.Context, envelopeID string) ([]Recipient, error)
	RemoveRecipient(ctx context.Context, id string) error
	SetRecipientStatus(ctx context.Context, id string, status RecipientStatus, at time.Time) (Recipient, error)
	SetRecipientDeclined(ctx context.Context, id string, reason string, at time.Time) (Recipient, error)
	SetAccessToken(ctx context.Context, id string, token string, expiresAt time.Time) error

	AddField(ctx context.Context, f Field) (Field, error)
	GetField(ctx context.Context, id string) (Field, error)
	ListFields(ctx context.Context, envelopeID string) ([]Field, error)
	UpdateField(ctx context.Context, id string, patch FieldPatch) (Field, error)
	SetFieldValue(ctx context.Context, id string, value string, signedAt *time.Time) (Field, error)
	RemoveField(ctx context.Context, id string) error
}

package signing

import (
	"context"
	"time"
)

// EvidenceStatus tracks the staged-commit protocol around the provider call.
type EvidenceStatus string

const (
	// EvidenceStaged is written before the provider is called.
	EvidenceStaged EvidenceStatus = "staged"
	// EvidenceComplete carries a committed signature.
	EvidenceComplete EvidenceStatus = "complete"
	// EvidenceOrphanUnsigned marks a staged row whose signing flow failed
	// after the provider call. Retained for forensics, never deleted.
	EvidenceOrphanUnsigned EvidenceStatus = "orphan_unsigned"
)

// Evidence is one recipient's cryptographic signing record: the canonical
// payload verbatim plus the provider's detached signature. Append-only.
type Evidence struct {
	ID          string
	EnvelopeID  string
	RecipientID string
	Seq         int
	Status      EvidenceStatus
	ProviderID  string
	Payload     string
	PayloadHash string
	Signature   []byte
	TSAToken    []byte
	CertChain   string
	CreatedAt   time.Time
}

// EvidenceRepo persists evidence rows. Stage assigns the next sequence number
// for the (envelope, recipient) pair; repeated sign loops after a decline get
// distinct sequence numbers.
type EvidenceRepo interface {
	Stage(ctx context.Context, ev Evidence) (Evidence, error)
	Complete(ctx context.Context, id string, res Result) error
	MarkOrphan(ctx context.Context, id string) error
	ListByEnvelope(ctx context.Context, envelopeID string) ([]Evidence, error)
	LatestComplete(ctx context.Context, envelopeID, recipientID string) (Evidence, bool, error)
}

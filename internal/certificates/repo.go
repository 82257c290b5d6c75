package certificates

import "context"

// Repo persists certificates, at most one per envelope.
type Repo interface {
	Create(ctx context.Context, cert Certificate) error
	GetByEnvelope(ctx context.Context, envelopeID string) (Certificate, error)
}

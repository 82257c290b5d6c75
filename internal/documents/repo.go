package documents

import "context"

// Repo defines persistence operations for documents.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, ownerID, documentID string) (Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error)
	ListByEnvelope(ctx context.Context, envelopeID string) ([]Document, error)
	Attach(ctx context.Context, ownerID, documentID, envelopeID string, position int) error
	Detach(ctx context.Context, documentID, envelopeID string) error
}

package certificates

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repo for dev and tests.
type MemoryRepo struct {
	mu    sync.Mutex
	certs map[string]Certificate
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{certs: make(map[string]Certificate)}
}

func (r *MemoryRepo) Create(ctx context.Context, cert Certificate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.certs[cert.EnvelopeID]; ok {
		return ErrExists
	}
	r.certs[cert.EnvelopeID] = cert
	return nil
}

func (r *MemoryRepo) GetByEnvelope(ctx context.Context, envelopeID string) (Certificate, error) {
	if err := ctx.Err(); err != nil {
		return Certificate{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cert, ok := r.certs[envelopeID]
	if !ok {
		return Certificate{}, ErrNotFound
	}
	return cert, nil
}

var _ Repo = (*MemoryRepo)(nil)

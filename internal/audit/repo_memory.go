package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo for dev and tests.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	chains map[string][]Event
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{chains: make(map[string][]Event)}
}

func (r *MemoryRepo) Append(ctx context.Context, entry Entry) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.UTC().Truncate(time.Second)

	prev := ""
	chain := r.chains[entry.EnvelopeID]
	if len(chain) > 0 {
		prev = chain[len(chain)-1].EventHash
	}

	hash, err := ComputeHash(prev, entry.Type, entry.Metadata, createdAt)
	if err != nil {
		return Event{}, err
	}

	r.nextID++
	ev := Event{
		ID:            r.nextID,
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
	}
	r.chains[entry.EnvelopeID] = append(chain, ev)
	return ev, nil
}

func (r *MemoryRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[envelopeID]
	out := make([]Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (r *MemoryRepo) Tail(ctx context.Context, envelopeID string) (Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[envelopeID]
	if len(chain) == 0 {
		return Event{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

var _ Repo = (*MemoryRepo)(nil)

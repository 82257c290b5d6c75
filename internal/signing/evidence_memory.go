package signing

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryEvidenceRepo is an in-memory EvidenceRepo for dev and tests.
type MemoryEvidenceRepo struct {
	mu   sync.Mutex
	rows map[string]Evidence
}

func NewMemoryEvidenceRepo() *MemoryEvidenceRepo {
	return &MemoryEvidenceRepo{rows: make(map[string]Evidence)}
}

func (r *MemoryEvidenceRepo) Stage(ctx context.Context, ev Evidence) (Evidence, error) {
	if err := ctx.Err(); err != nil {
		return Evidence{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	maxSeq := 0
	for _, existing := range r.rows {
		if existing.EnvelopeID == ev.EnvelopeID && existing.RecipientID == ev.RecipientID && existing.Seq > maxSeq {
			maxSeq = existing.Seq
		}
	}
	ev.Seq = maxSeq + 1
	ev.Status = EvidenceStaged
	r.rows[ev.ID] = ev
	return ev, nil
}

func (r *MemoryEvidenceRepo) Complete(ctx context.Context, id string, res Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.rows[id]
	if !ok || ev.Status != EvidenceStaged {
		return errEvidenceNotFound
	}
	ev.Status = EvidenceComplete
	ev.ProviderID = res.ProviderID
	ev.Signature = res.Signature
	ev.TSAToken = res.TSAToken
	ev.CertChain = strings.Join(res.CertChain, "\n")
	r.rows[id] = ev
	return nil
}

func (r *MemoryEvidenceRepo) MarkOrphan(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.rows[id]
	if !ok || ev.Status != EvidenceStaged {
		return errEvidenceNotFound
	}
	ev.Status = EvidenceOrphanUnsigned
	r.rows[id] = ev
	return nil
}

func (r *MemoryEvidenceRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]Evidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Evidence
	for _, ev := range r.rows {
		if ev.EnvelopeID == envelopeID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryEvidenceRepo) LatestComplete(ctx context.Context, envelopeID, recipientID string) (Evidence, bool, error) {
	if err := ctx.Err(); err != nil {
		return Evidence{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		best  Evidence
		found bool
	)
	for _, ev := range r.rows {
		if ev.EnvelopeID == envelopeID && ev.RecipientID == recipientID && ev.Status == EvidenceComplete {
			if !found || ev.Seq > best.Seq {
				best = ev
				found = true
			}
		}
	}
	return best, found, nil
}

var _ EvidenceRepo = (*MemoryEvidenceRepo)(nil)

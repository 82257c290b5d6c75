package signing

import (
	"context"
	"sort"

	"esign-backend/internal/audit"
	"esign-backend/internal/envelopes"
)

// IntegrityReport is the result of the envelope integrity check: audit chain
// verification plus cross-evidence document-hash comparison.
type IntegrityReport struct {
	ChainOK bool  `json:"chainOk"`
	BreakAt int64 `json:"breakAt,omitempty"`

	// EvidenceAgreement is false when two complete evidences disagree on any
	// document hash, which means the stored bytes changed between signings.
	EvidenceAgreement bool `json:"evidenceAgreement"`

	// CurrentMatchesEvidence is false when the blob store's current bytes
	// hash differently from the most recent evidence.
	CurrentMatchesEvidence bool `json:"currentMatchesEvidence"`

	EvidenceCount int       `json:"evidenceCount"`
	DivergentDocs []string  `json:"divergentDocs,omitempty"`
	CurrentHashes []DocHash `json:"currentHashes"`
}

// AuditTrail returns the envelope's full event sequence. Sender-only.
func (c *Controller) AuditTrail(ctx context.Context, senderID, envelopeID string) ([]audit.Event, error) {
	if _, err := c.owned(ctx, senderID, envelopeID); err != nil {
		return nil, err
	}
	return c.Audit.ListByEnvelope(ctx, envelopeID)
}

// VerifyChain recomputes the envelope's audit hash chain end to end.
func (c *Controller) VerifyChain(ctx context.Context, senderID, envelopeID string) (audit.VerifyResult, error) {
	if _, err := c.owned(ctx, senderID, envelopeID); err != nil {
		return audit.VerifyResult{}, err
	}
	events, err := c.Audit.ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return audit.VerifyResult{}, err
	}
	return audit.VerifyChain(events)
}

// CheckIntegrity verifies the audit chain, compares document hashes across
// every complete evidence, and re-hashes the blobs as they are now. A signer
// always signs what is on disk at that moment; divergence across evidences is
// how post-send tampering surfaces.
func (c *Controller) CheckIntegrity(ctx context.Context, senderID, envelopeID string) (IntegrityReport, error) {
	if _, err := c.owned(ctx, senderID, envelopeID); err != nil {
		return IntegrityReport{}, err
	}

	events, err := c.Audit.ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return IntegrityReport{}, err
	}
	chain, err := audit.VerifyChain(events)
	if err != nil {
		return IntegrityReport{}, err
	}

	docs, err := c.Docs.ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return IntegrityReport{}, err
	}
	current, err := HashDocuments(ctx, c.Store, docs)
	if err != nil {
		return IntegrityReport{}, err
	}

	evs, err := c.Evidence.ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{
		ChainOK:                chain.OK,
		BreakAt:                chain.BreakAt,
		EvidenceAgreement:      true,
		CurrentMatchesEvidence: true,
		CurrentHashes:          current,
	}

	seen := make(map[string]string)
	divergent := make(map[string]bool)
	var latest []DocHash
	for _, ev := range evs {
		if ev.Status != EvidenceComplete {
			continue
		}
		report.EvidenceCount++
		hashes, err := docHashesFromPayload(ev.Payload)
		if err != nil {
			return IntegrityReport{}, err
		}
		latest = hashes
		for _, h := range hashes {
			if prev, ok := seen[h.DocID]; ok && prev != h.SHA256 {
				divergent[h.DocID] = true
			}
			seen[h.DocID] = h.SHA256
		}
	}
	if len(divergent) > 0 {
		report.EvidenceAgreement = false
		for id := range divergent {
			report.DivergentDocs = append(report.DivergentDocs, id)
		}
		sort.Strings(report.DivergentDocs)
	}
	if latest != nil {
		latestByID := make(map[string]string, len(latest))
		for _, h := range latest {
			latestByID[h.DocID] = h.SHA256
		}
		for _, h := range current {
			if stored, ok := latestByID[h.DocID]; ok && stored != h.SHA256 {
				report.CurrentMatchesEvidence = false
			}
		}
	}
	return report, nil
}

func (c *Controller) owned(ctx context.Context, senderID, envelopeID string) (envelopes.Envelope, error) {
	env, err := c.Repo.GetByID(ctx, envelopeID)
	if err != nil {
		return envelopes.Envelope{}, err
	}
	if env.SenderID != senderID {
		return envelopes.Envelope{}, envelopes.ErrForbidden
	}
	return env, nil
}

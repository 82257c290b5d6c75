package certificates

import (
	"fmt"
	"sort"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/signing"
	"esign-backend/internal/users"
)

// buildInput is everything the builder aggregates for one envelope.
type buildInput struct {
	Envelope   envelopes.Envelope
	Sender     users.User
	Documents  []documents.Document
	DocHashes  []signing.DocHash
	Recipients []envelopes.Recipient
	Fields     []envelopes.Field
	Events     []audit.Event
	Evidences  []signing.Evidence
}

// build assembles the certificate JSON. generated_at is the envelope's
// completion time so equal inputs produce equal output.
func build(certID string, in buildInput) (Data, error) {
	hashByDoc := make(map[string]string, len(in.DocHashes))
	for _, h := range in.DocHashes {
		hashByDoc[h.DocID] = h.SHA256
	}

	docs := make([]DocumentBlock, 0, len(in.Documents))
	for _, doc := range in.Documents {
		sum, ok := hashByDoc[doc.ID]
		if !ok {
			return Data{}, fmt.Errorf("missing hash for document %s", doc.ID)
		}
		docs = append(docs, DocumentBlock{
			ID:       doc.ID,
			Name:     doc.OriginalFilename,
			Order:    doc.Position,
			Pages:    doc.PageCount,
			FileSize: doc.SizeBytes,
			SHA256:   sum,
		})
	}

	fieldsByRecipient := make(map[string][]FieldBlock)
	totalRequired := 0
	for _, f := range in.Fields {
		if f.Required {
			totalRequired++
		}
		fieldsByRecipient[f.RecipientID] = append(fieldsByRecipient[f.RecipientID], FieldBlock{
			Type:     string(f.Type),
			Page:     f.Page,
			Bounds:   [4]float64{f.X, f.Y, f.Width, f.Height},
			Value:    f.Value,
			SignedAt: f.SignedAt,
		})
	}

	recipients := make([]Recipient, 0, len(in.Recipients))
	totalSigned := 0
	for _, rec := range in.Recipients {
		if rec.Status == envelopes.RecipientSigned {
			totalSigned++
		}
		fields := fieldsByRecipient[rec.ID]
		if fields == nil {
			fields = []FieldBlock{}
		}
		recipients = append(recipients, Recipient{
			Email:        rec.Email,
			Name:         rec.Name,
			Role:         string(rec.Role),
			RoutingOrder: rec.RoutingOrder,
			Status:       string(rec.Status),
			SignedAt:     rec.SignedAt,
			ViewedAt:     rec.ViewedAt,
			Fields:       fields,
		})
	}

	trail := make([]AuditEntry, 0, len(in.Events))
	for _, ev := range in.Events {
		trail = append(trail, AuditEntry{
			EventID:       ev.ID,
			Type:          string(ev.Type),
			ActorType:     string(ev.ActorType),
			ActorID:       ev.ActorID,
			IPAddress:     ev.IPAddress,
			PrevEventHash: ev.PrevEventHash,
			EventHash:     ev.EventHash,
			CreatedAt:     ev.CreatedAt,
		})
	}

	recEmail := make(map[string]string, len(in.Recipients))
	for _, rec := range in.Recipients {
		recEmail[rec.ID] = rec.Email
	}
	evidences := make([]EvidenceSummary, 0, len(in.Evidences))
	for _, ev := range in.Evidences {
		if ev.Status != signing.EvidenceComplete {
			continue
		}
		evidences = append(evidences, EvidenceSummary{
			Provider:   ev.ProviderID,
			Recipient:  recEmail[ev.RecipientID],
			TSAPresent: len(ev.TSAToken) > 0,
			CreatedAt:  ev.CreatedAt,
		})
	}
	sort.Slice(evidences, func(i, j int) bool { return evidences[i].CreatedAt.Before(evidences[j].CreatedAt) })

	generatedAt := in.Envelope.CreatedAt
	if in.Envelope.CompletedAt != nil {
		generatedAt = *in.Envelope.CompletedAt
	}

	return Data{
		CertificateVersion: Version,
		CertificateID:      certID,
		Envelope: EnvelopeBlock{
			ID:          in.Envelope.ID,
			Title:       in.Envelope.Title,
			Subject:     in.Envelope.Subject,
			Status:      string(in.Envelope.Status),
			SentAt:      in.Envelope.SentAt,
			CompletedAt: in.Envelope.CompletedAt,
			CreatedAt:   in.Envelope.CreatedAt,
		},
		Sender: SenderBlock{
			ID:    in.Sender.ID,
			Email: in.Sender.Email,
			Name:  in.Sender.Name,
		},
		Documents:  docs,
		Recipients: recipients,
		AuditTrail: trail,
		Security: SecurityBlock{
			GeneratedAt: generatedAt,
			Version:     Version,
			Integrity: IntegrityBlock{
				TotalRequired:  totalRequired,
				TotalSigned:    totalSigned,
				DocumentCount:  len(in.Documents),
				RecipientCount: len(in.Recipients),
			},
			Evidences: evidences,
		},
		Compliance: DefaultCompliance(),
	}, nil
}

func (c *buildInput) sortParts() {
	sort.Slice(c.Documents, func(i, j int) bool {
		if c.Documents[i].Position != c.Documents[j].Position {
			return c.Documents[i].Position < c.Documents[j].Position
		}
		return c.Documents[i].ID < c.Documents[j].ID
	})
	sort.Slice(c.Recipients, func(i, j int) bool {
		if c.Recipients[i].RoutingOrder != c.Recipients[j].RoutingOrder {
			return c.Recipients[i].RoutingOrder < c.Recipients[j].RoutingOrder
		}
		return c.Recipients[i].Email < c.Recipients[j].Email
	})
}

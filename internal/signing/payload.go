package signing

import (
	"time"

	"esign-backend/internal/shared/canonical"
)

// IntentApproveAndSign is the only signing intent the controller produces.
const IntentApproveAndSign = "approve_and_sign"

// Payload is the record a recipient's signature covers: the envelope, the
// recipient, the intent, and the hash of every bound document.
type Payload struct {
	EnvelopeID     int64     `json:"envelope_id"`
	EnvelopeUUID   string    `json:"envelope_uuid"`
	RecipientID    string    `json:"recipient_id"`
	RecipientEmail string    `json:"recipient_email"`
	Intent         string    `json:"intent"`
	DocHashes      []DocHash `json:"doc_hashes"`
	Timestamp      time.Time `json:"-"`
	IP             string    `json:"ip"`
	UserAgent      string    `json:"user_agent"`
	Nonce          string    `json:"nonce"`
}

// Canonical serialises the payload deterministically: JSON, keys sorted,
// strings NFC, no insignificant whitespace, times RFC 3339 UTC.
func (p Payload) Canonical() ([]byte, error) {
	hashes := make([]any, 0, len(p.DocHashes))
	for _, h := range p.DocHashes {
		hashes = append(hashes, map[string]any{"doc_id": h.DocID, "sha256": h.SHA256})
	}
	return canonical.JSON(map[string]any{
		"envelope_id":     p.EnvelopeID,
		"envelope_uuid":   p.EnvelopeUUID,
		"recipient_id":    p.RecipientID,
		"recipient_email": p.RecipientEmail,
		"intent":          p.Intent,
		"doc_hashes":      hashes,
		"timestamp":       p.Timestamp.UTC().Format(time.RFC3339),
		"ip":              p.IP,
		"user_agent":      p.UserAgent,
		"nonce":           p.Nonce,
	})
}

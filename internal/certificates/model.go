package certificates

import (
	"errors"
	"time"
)

// Version is the certificate JSON schema version.
const Version = "1.1"

var (
	// ErrExists signals an idempotent re-generation; callers get the stored
	// certificate back.
	ErrExists = errors.New("certificate already exists")
	// ErrNotFound means no certificate is stored for the envelope.
	ErrNotFound = errors.New("certificate not found")
	// ErrNotCompleted rejects generation for non-completed envelopes.
	ErrNotCompleted = errors.New("envelope is not completed")
)

// Certificate is the stored completion record: the aggregate JSON plus the
// rendered PDF's blob key.
type Certificate struct {
	ID            string
	EnvelopeID    string
	Data          Data
	PDFStorageKey string
	CreatedAt     time.Time
}

// Data is the certificate JSON aggregate. Field order matches the rendered
// document.
type Data struct {
	CertificateVersion string          `json:"certificateVersion"`
	CertificateID      string          `json:"certificateId"`
	Envelope           EnvelopeBlock   `json:"envelope"`
	Sender             SenderBlock     `json:"sender"`
	Documents          []DocumentBlock `json:"documents"`
	Recipients         []Recipient     `json:"recipients"`
	AuditTrail         []AuditEntry    `json:"auditTrail"`
	Security           SecurityBlock   `json:"security"`
	Compliance         Compliance      `json:"compliance"`
}

type EnvelopeBlock struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject,omitempty"`
	Status      string     `json:"status"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type SenderBlock struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type DocumentBlock struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Order    int    `json:"order"`
	Pages    int    `json:"pages"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256"`
}

type FieldBlock struct {
	Type     string     `json:"type"`
	Page     int        `json:"page"`
	Bounds   [4]float64 `json:"bounds"`
	Value    string     `json:"value,omitempty"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

type Recipient struct {
	Email        string       `json:"email"`
	Name         string       `json:"name,omitempty"`
	Role         string       `json:"role"`
	RoutingOrder int          `json:"routing_order"`
	Status       string       `json:"status"`
	SignedAt     *time.Time   `json:"signed_at,omitempty"`
	ViewedAt     *time.Time   `json:"viewed_at,omitempty"`
	Fields       []FieldBlock `json:"fields"`
}

type AuditEntry struct {
	EventID       int64     `json:"event_id"`
	Type          string    `json:"type"`
	ActorType     string    `json:"actor_type"`
	ActorID       string    `json:"actor_id,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	PrevEventHash string    `json:"prev_event_hash"`
	EventHash     string    `json:"event_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

type IntegrityBlock struct {
	TotalRequired  int `json:"totalRequired"`
	TotalSigned    int `json:"totalSigned"`
	DocumentCount  int `json:"documentCount"`
	RecipientCount int `json:"recipientCount"`
}

type EvidenceSummary struct {
	Provider   string    `json:"provider"`
	Recipient  string    `json:"recipient"`
	TSAPresent bool      `json:"tsa_present"`
	CreatedAt  time.Time `json:"created_at"`
}

type SecurityBlock struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Version     string            `json:"version"`
	Integrity   IntegrityBlock    `json:"integrity"`
	Evidences   []EvidenceSummary `json:"evidences"`
}

// Compliance is the constant description of the signature regime.
type Compliance struct {
	Statement string `json:"statement"`
	Standards string `json:"standards"`
	HashAlgo  string `json:"hashAlgorithm"`
}

// DefaultCompliance describes the evidence regime every certificate carries.
func DefaultCompliance() Compliance {
	return Compliance{
		Statement: "All parties signed through individually tokenised access links. Each signature covers a canonical payload binding the signer, the envelope, and the SHA-256 digest of every document.",
		Standards: "Designed to support ESIGN Act and eIDAS advanced electronic signature evidence requirements.",
		HashAlgo:  "SHA-256",
	}
}

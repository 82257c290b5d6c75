package documents

import "time"

// MimePDF is the only content type accepted for envelope documents.
const MimePDF = "application/pdf"

// Document is an uploaded PDF. It lives in its owner's draft pool until
// attached to an envelope; Position orders documents within an envelope.
type Document struct {
	ID               string
	Seq              int64
	OwnerID          string
	EnvelopeID       string
	Position         int
	OriginalFilename string
	StorageKey       string
	SizeBytes        int64
	MimeType         string
	PageCount        int
	CreatedAt        time.Time
}

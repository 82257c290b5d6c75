package certificates

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageMargin = 50.0
	lineHeight = 14.0
)

// renderPDF produces the certificate document: A4, 50-pt margins, fixed
// section order. Rendering is deterministic: the only timestamps in the body
// come from the certificate data, and the PDF creation date is pinned to the
// envelope's completion time, so equal inputs yield byte-equal output.
func renderPDF(data Data) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetCreationDate(data.Security.GeneratedAt.UTC())
	pdf.SetModificationDate(data.Security.GeneratedAt.UTC())
	pdf.SetTitle("Certificate of Completion", false)
	pdf.SetProducer("esign-backend", false)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()

	// Header.
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 28, "Certificate of Completion", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, lineHeight, "Version "+data.CertificateVersion, "", 1, "C", false, 0, "")
	pdf.Ln(10)

	// Envelope.
	sectionTitle(pdf, "Envelope")
	kv(pdf, "Envelope ID", data.Envelope.ID)
	kv(pdf, "Title", data.Envelope.Title)
	if data.Envelope.Subject != "" {
		kv(pdf, "Subject", data.Envelope.Subject)
	}
	kv(pdf, "Status", data.Envelope.Status)
	kv(pdf, "Created", stamp(data.Envelope.CreatedAt))
	if data.Envelope.SentAt != nil {
		kv(pdf, "Sent", stamp(*data.Envelope.SentAt))
	}
	if data.Envelope.CompletedAt != nil {
		kv(pdf, "Completed", stamp(*data.Envelope.CompletedAt))
	}
	pdf.Ln(8)

	// Sender.
	sectionTitle(pdf, "Sender")
	kv(pdf, "Sender ID", data.Sender.ID)
	if data.Sender.Name != "" {
		kv(pdf, "Name", data.Sender.Name)
	}
	if data.Sender.Email != "" {
		kv(pdf, "Email", data.Sender.Email)
	}
	pdf.Ln(8)

	// Recipients and signatures.
	sectionTitle(pdf, "Recipients & Signatures")
	for _, rec := range data.Recipients {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, lineHeight, fmt.Sprintf("%s  (%s, order %d)", rec.Email, rec.Role, rec.RoutingOrder), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		kv(pdf, "Status", rec.Status)
		if rec.ViewedAt != nil {
			kv(pdf, "Viewed", stamp(*rec.ViewedAt))
		}
		if rec.SignedAt != nil {
			kv(pdf, "Signed", stamp(*rec.SignedAt))
		}
		for _, f := range rec.Fields {
			line := fmt.Sprintf("%s on page %d at (%.2f, %.2f)", f.Type, f.Page, f.Bounds[0], f.Bounds[1])
			if f.Value != "" {
				line += fmt.Sprintf(" = %q", f.Value)
			}
			kv(pdf, "Field", line)
		}
		pdf.Ln(4)
	}
	pdf.Ln(4)

	// Documents with hashes.
	sectionTitle(pdf, "Documents")
	for _, doc := range data.Documents {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, lineHeight, fmt.Sprintf("%d. %s (%d pages, %d bytes)", doc.Order, doc.Name, doc.Pages, doc.FileSize), "", 1, "L", false, 0, "")
		pdf.SetFont("Courier", "", 8)
		pdf.CellFormat(0, lineHeight, "SHA-256 "+doc.SHA256, "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	// Security & compliance.
	sectionTitle(pdf, "Security & Compliance")
	kv(pdf, "Required fields", fmt.Sprintf("%d", data.Security.Integrity.TotalRequired))
	kv(pdf, "Signed recipients", fmt.Sprintf("%d of %d", data.Security.Integrity.TotalSigned, data.Security.Integrity.RecipientCount))
	kv(pdf, "Documents", fmt.Sprintf("%d", data.Security.Integrity.DocumentCount))
	for _, ev := range data.Security.Evidences {
		detail := fmt.Sprintf("%s via %s at %s", ev.Recipient, ev.Provider, stamp(ev.CreatedAt))
		if ev.TSAPresent {
			detail += " (timestamped)"
		}
		kv(pdf, "Evidence", detail)
	}
	pdf.SetFont("Helvetica", "", 8)
	pdf.MultiCell(0, 11, data.Compliance.Statement, "", "L", false)
	pdf.MultiCell(0, 11, data.Compliance.Standards, "", "L", false)
	pdf.Ln(8)

	// Certificate id & timestamp.
	sectionTitle(pdf, "Certificate")
	kv(pdf, "Certificate ID", data.CertificateID)
	kv(pdf, "Generated", stamp(data.Security.GeneratedAt))

	// Footer.
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(0, lineHeight, "This certificate is derived from the envelope's tamper-evident audit chain.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 18, title, "B", 1, "L", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 9)
}

func kv(pdf *gofpdf.Fpdf, key, value string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(110, lineHeight, key, "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, lineHeight, value, "", "L", false)
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

package certificates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/storage/object"
	"esign-backend/internal/signing"
	"esign-backend/internal/users"
)

// Service generates and serves certificates of completion.
type Service struct {
	Envelopes envelopes.Repo
	Docs      documents.Repo
	Users     users.Repo
	Audit     audit.Repo
	Evidence  signing.EvidenceRepo
	Store     object.Store
	Repo      Repo
	Runner    db.Runner
}

// Generate builds, renders, and persists the certificate for a completed
// envelope. It is idempotent: a second call returns the stored certificate.
func (s *Service) Generate(ctx context.Context, envelopeID string) (Certificate, error) {
	if cert, err := s.Repo.GetByEnvelope(ctx, envelopeID); err == nil {
		return cert, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Certificate{}, err
	}

	env, err := s.Envelopes.GetByID(ctx, envelopeID)
	if err != nil {
		return Certificate{}, err
	}
	if env.Status != envelopes.StatusCompleted {
		return Certificate{}, ErrNotCompleted
	}

	in := buildInput{Envelope: env}
	if in.Documents, err = s.Docs.ListByEnvelope(ctx, envelopeID); err != nil {
		return Certificate{}, err
	}
	if in.DocHashes, err = signing.HashDocuments(ctx, s.Store, in.Documents); err != nil {
		return Certificate{}, fmt.Errorf("hash documents: %w", err)
	}
	if in.Recipients, err = s.Envelopes.ListRecipients(ctx, envelopeID); err != nil {
		return Certificate{}, err
	}
	if in.Fields, err = s.Envelopes.ListFields(ctx, envelopeID); err != nil {
		return Certificate{}, err
	}
	if in.Events, err = s.Audit.ListByEnvelope(ctx, envelopeID); err != nil {
		return Certificate{}, err
	}
	if in.Evidences, err = s.Evidence.ListByEnvelope(ctx, envelopeID); err != nil {
		return Certificate{}, err
	}
	// The sender row may predate the users table backfill; the certificate
	// still carries the sender ID.
	if sender, uerr := s.Users.GetByID(ctx, env.SenderID); uerr == nil {
		in.Sender = sender
	} else {
		in.Sender = users.User{ID: env.SenderID}
	}
	in.sortParts()

	certID := uuid.NewString()
	data, err := build(certID, in)
	if err != nil {
		return Certificate{}, err
	}
	pdfBytes, err := renderPDF(data)
	if err != nil {
		return Certificate{}, err
	}

	storageKey := "certificates/" + certID + ".pdf"
	if _, err := s.Store.Put(ctx, storageKey, documents.MimePDF, bytes.NewReader(pdfBytes)); err != nil {
		return Certificate{}, fmt.Errorf("store certificate pdf: %w", err)
	}

	cert := Certificate{
		ID:            certID,
		EnvelopeID:    envelopeID,
		Data:          data,
		PDFStorageKey: storageKey,
		CreatedAt:     time.Now().UTC(),
	}
	err = s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		return s.Repo.Create(ctx, cert)
	})
	if errors.Is(err, ErrExists) {
		// A concurrent generation won the insert race; serve its row.
		return s.Repo.GetByEnvelope(ctx, envelopeID)
	}
	if err != nil {
		return Certificate{}, err
	}
	return cert, nil
}

// Get returns the stored certificate for a sender-owned envelope.
func (s *Service) Get(ctx context.Context, senderID, envelopeID string) (Certificate, error) {
	if err := s.owned(ctx, senderID, envelopeID); err != nil {
		return Certificate{}, err
	}
	return s.Repo.GetByEnvelope(ctx, envelopeID)
}

// OpenPDF returns a reader over the certificate's rendered PDF.
func (s *Service) OpenPDF(ctx context.Context, senderID, envelopeID string) (io.ReadCloser, Certificate, error) {
	cert, err := s.Get(ctx, senderID, envelopeID)
	if err != nil {
		return nil, Certificate{}, err
	}
	rc, err := s.Store.Get(ctx, cert.PDFStorageKey)
	if err != nil {
		return nil, Certificate{}, fmt.Errorf("open certificate pdf: %w", err)
	}
	return rc, cert, nil
}

func (s *Service) owned(ctx context.Context, senderID, envelopeID string) error {
	env, err := s.Envelopes.GetByID(ctx, envelopeID)
	if err != nil {
		return err
	}
	if env.SenderID != senderID {
		return envelopes.ErrForbidden
	}
	return nil
}

// Scheduler adapts Service to the completion callback the signing flow
// expects. Generation errors are returned to the caller, which logs and
// retries on the next read.
type Scheduler struct {
	Service *Service
}

func (s Scheduler) Generate(ctx context.Context, envelopeID string) error {
	_, err := s.Service.Generate(ctx, envelopeID)
	return err
}

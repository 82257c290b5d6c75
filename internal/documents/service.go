package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"esign-backend/internal/shared/storage/object"
	"esign-backend/internal/shared/util"
)

// Service contains business logic for documents.
type Service struct {
	Store object.Store
	Repo  Repo
}

// Upload validates the payload as a PDF, counts its pages, stores the bytes
// under a fresh blob key, and records the document in the owner's pool.
func (s *Service) Upload(ctx context.Context, ownerID, fileName string, r io.Reader) (Document, error) {
	if strings.TrimSpace(fileName) == "" {
		return Document{}, ErrInvalidInput
	}
	if _, err := util.SanitizeFileName(fileName); err != nil {
		return Document{}, ErrInvalidInput
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read upload: %w", err)
	}
	pages, err := pageCount(raw)
	if err != nil {
		return Document{}, ErrNotPDF
	}

	id := uuid.NewString()
	storageKey := "documents/" + id + ".pdf"
	size, err := s.Store.Put(ctx, storageKey, MimePDF, bytes.NewReader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("store document: %w", err)
	}

	doc := Document{
		ID:               id,
		OwnerID:          ownerID,
		OriginalFilename: fileName,
		StorageKey:       storageKey,
		SizeBytes:        size,
		MimeType:         MimePDF,
		PageCount:        pages,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get returns a document owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, documentID string) (Document, error) {
	if ownerID == "" || documentID == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, ownerID, documentID)
}

// List returns the owner's pool documents.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if ownerID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByOwner(ctx, ownerID, limit, offset)
}

func pageCount(raw []byte) (int, error) {
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return 0, ErrNotPDF
	}
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return 0, err
	}
	pages := reader.NumPage()
	if pages < 1 {
		return 0, ErrNotPDF
	}
	return pages, nil
}

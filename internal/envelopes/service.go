package envelopes

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/util"
)

// Caps bound how much work a single envelope may carry. Enforced when the
// envelope is assembled and again at send time.
type Caps struct {
	MaxDocuments  int
	MaxRecipients int
	MaxFields     int
}

// Hooks receives lifecycle notifications after the owning transaction has
// committed. Implementations must not block; failures are theirs to log.
type Hooks interface {
	EnvelopeSent(ctx context.Context, env Envelope, next []Recipient)
	RecipientTurn(ctx context.Context, env Envelope, next []Recipient)
	EnvelopeCompleted(ctx context.Context, env Envelope)
	RecipientDeclined(ctx context.Context, env Envelope, rec Recipient)
	EnvelopeExpired(ctx context.Context, env Envelope)
}

// Service contains the envelope lifecycle engine: draft assembly, the send
// contract, routing-order advancement, and terminal transitions.
type Service struct {
	Repo       Repo
	Docs       documents.Repo
	Audit      audit.Repo
	Runner     db.Runner
	Hooks      Hooks
	Caps       Caps
	TokenBytes int
	TokenTTL   time.Duration
}

// CreateInput is the draft seed.
type CreateInput struct {
	Title           string
	Subject         string
	Message         string
	Priority        Priority
	ReminderCadence ReminderCadence
	Metadata        map[string]any
	ExpiresAt       *time.Time
}

// Detail is an envelope with its assembled parts and derived progress.
type Detail struct {
	Envelope   Envelope
	Documents  []documents.Document
	Recipients []Recipient
	Fields     []Field
	Progress   Progress
}

// Create opens a new draft owned by senderID.
func (s *Service) Create(ctx context.Context, senderID string, in CreateInput) (Envelope, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Envelope{}, ErrInvalidInput
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return Envelope{}, ErrInvalidInput
	}
	if in.ReminderCadence == "" {
		in.ReminderCadence = ReminderNone
	}
	if !in.ReminderCadence.Valid() {
		return Envelope{}, ErrInvalidInput
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now()) {
		return Envelope{}, ErrInvalidInput
	}

	env := Envelope{
		ID:              uuid.NewString(),
		SenderID:        senderID,
		Title:           strings.TrimSpace(in.Title),
		Subject:         in.Subject,
		Message:         in.Message,
		Priority:        in.Priority,
		Status:          StatusDraft,
		ReminderCadence: in.ReminderCadence,
		Metadata:        in.Metadata,
		ExpiresAt:       in.ExpiresAt,
		CreatedAt:       time.Now().UTC(),
	}

	err := s.Runner.InTx(ctx, env.ID, func(ctx context.Context) error {
		created, err := s.Repo.Create(ctx, env)
		if err != nil {
			return err
		}
		env = created
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: env.ID,
			Type:       audit.EventEnvelopeCreated,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"title": env.Title},
		})
		return err
	})
	if err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Get returns the envelope with documents, recipients, fields, and progress.
func (s *Service) Get(ctx context.Context, senderID, envelopeID string) (Detail, error) {
	env, err := s.owned(ctx, senderID, envelopeID)
	if err != nil {
		return Detail{}, err
	}
	return s.detail(ctx, env)
}

func (s *Service) detail(ctx context.Context, env Envelope) (Detail, error) {
	docs, err := s.Docs.ListByEnvelope(ctx, env.ID)
	if err != nil {
		return Detail{}, err
	}
	recs, err := s.Repo.ListRecipients(ctx, env.ID)
	if err != nil {
		return Detail{}, err
	}
	fields, err := s.Repo.ListFields(ctx, env.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		Envelope:   env,
		Documents:  docs,
		Recipients: recs,
		Fields:     fields,
		Progress:   ComputeProgress(recs, fields),
	}, nil
}

// List returns the sender's envelopes newest-first.
func (s *Service) List(ctx context.Context, senderID string, filter ListFilter) ([]Envelope, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListBySender(ctx, senderID, filter)
}

// Update patches mutable attributes. Drafts only.
func (s *Service) Update(ctx context.Context, senderID, envelopeID string, patch EnvelopePatch) (Envelope, error) {
	if patch.Priority != nil && !patch.Priority.Valid() {
		return Envelope{}, ErrInvalidInput
	}
	if patch.ReminderCadence != nil && !patch.ReminderCadence.Valid() {
		return Envelope{}, ErrInvalidInput
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Envelope{}, ErrInvalidInput
	}

	var out Envelope
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		out, err = s.Repo.Update(ctx, envelopeID, patch)
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventEnvelopeUpdated,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
		})
		return err
	})
	if err != nil {
		return Envelope{}, err
	}
	return out, nil
}

// Delete destroys a draft or voided envelope and everything it owns. Sent
// and completed envelopes are never deleted; their audit trail must survive.
func (s *Service) Delete(ctx context.Context, senderID, envelopeID string) error {
	return s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft && env.Status != StatusVoided {
			return ErrInvalidState
		}
		return s.Repo.Delete(ctx, envelopeID)
	})
}

// AttachDocument binds a pool document at the given position. Drafts only.
func (s *Service) AttachDocument(ctx context.Context, senderID, envelopeID, documentID string, position int) error {
	return s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		attached, err := s.Docs.ListByEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		if s.Caps.MaxDocuments > 0 && len(attached) >= s.Caps.MaxDocuments {
			return ErrLimitExceeded
		}
		if err := s.Docs.Attach(ctx, senderID, documentID, envelopeID, position); err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventDocumentAdded,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"document_id": documentID, "position": position},
		})
		return err
	})
}

// DetachDocument returns a document to the sender's pool. Drafts only.
func (s *Service) DetachDocument(ctx context.Context, senderID, envelopeID, documentID string) error {
	return s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		fields, err := s.Repo.ListFields(ctx, envelopeID)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if f.DocumentID == documentID {
				return ErrInvalidInput
			}
		}
		if err := s.Docs.Detach(ctx, documentID, envelopeID); err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventDocumentRemoved,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"document_id": documentID},
		})
		return err
	})
}

// RecipientInput seeds a recipient row.
type RecipientInput struct {
	Email           string
	Name            string
	Role            RecipientRole
	RoutingOrder    int
	Permissions     map[string]any
	AuthMethod      AuthMethod
	Message         string
	ReminderEnabled bool
}

// AddRecipient appends a recipient. Drafts only; email unique per envelope.
func (s *Service) AddRecipient(ctx context.Context, senderID, envelopeID string, in RecipientInput) (Recipient, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Recipient{}, ErrInvalidInput
	}
	if in.Role == "" {
		in.Role = RoleSigner
	}
	if !in.Role.Valid() {
		return Recipient{}, ErrInvalidInput
	}
	if in.RoutingOrder < 1 {
		return Recipient{}, ErrInvalidInput
	}
	if in.AuthMethod == "" {
		in.AuthMethod = AuthEmail
	}
	if !in.AuthMethod.Valid() {
		return Recipient{}, ErrInvalidInput
	}

	var out Recipient
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		existing, err := s.Repo.ListRecipients(ctx, envelopeID)
		if err != nil {
			return err
		}
		if s.Caps.MaxRecipients > 0 && len(existing) >= s.Caps.MaxRecipients {
			return ErrLimitExceeded
		}
		out, err = s.Repo.AddRecipient(ctx, Recipient{
			ID:              uuid.NewString(),
			EnvelopeID:      envelopeID,
			Email:           email,
			Name:            in.Name,
			Role:            in.Role,
			RoutingOrder:    in.RoutingOrder,
			Permissions:     in.Permissions,
			AuthMethod:      in.AuthMethod,
			Message:         in.Message,
			ReminderEnabled: in.ReminderEnabled,
			Status:          RecipientPending,
			CreatedAt:       time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventRecipientAdded,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"recipient_id": out.ID, "email": email, "role": string(in.Role)},
		})
		return err
	})
	if err != nil {
		return Recipient{}, err
	}
	return out, nil
}

// RemoveRecipient drops a recipient and its fields. Drafts only.
func (s *Service) RemoveRecipient(ctx context.Context, senderID, envelopeID, recipientID string) error {
	return s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		rec, err := s.Repo.GetRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		if rec.EnvelopeID != envelopeID {
			return ErrNotFound
		}
		if err := s.Repo.RemoveRecipient(ctx, recipientID); err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventRecipientRemoved,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"recipient_id": recipientID},
		})
		return err
	})
}

// FieldInput seeds a field row.
type FieldInput struct {
	DocumentID   string
	RecipientID  string
	Type         FieldType
	Page         int
	X            float64
	Y            float64
	Width        float64
	Height       float64
	Required     bool
	DefaultValue string
	Validation   map[string]any
}

// AddField places a capture on a page. Drafts only; the document must be
// attached and the recipient must belong to this envelope.
func (s *Service) AddField(ctx context.Context, senderID, envelopeID string, in FieldInput) (Field, error) {
	if !in.Type.Valid() {
		return Field{}, ErrInvalidInput
	}
	f := Field{
		ID:           uuid.NewString(),
		EnvelopeID:   envelopeID,
		DocumentID:   in.DocumentID,
		RecipientID:  in.RecipientID,
		Type:         in.Type,
		Page:         in.Page,
		X:            in.X,
		Y:            in.Y,
		Width:        in.Width,
		Height:       in.Height,
		Required:     in.Required,
		DefaultValue: in.DefaultValue,
		Validation:   in.Validation,
		CreatedAt:    time.Now().UTC(),
	}
	if !f.GeometryValid() {
		return Field{}, ErrInvalidInput
	}

	var out Field
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		rec, err := s.Repo.GetRecipient(ctx, in.RecipientID)
		if err != nil {
			return err
		}
		if rec.EnvelopeID != envelopeID {
			return ErrInvalidInput
		}
		docs, err := s.Docs.ListByEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		var doc *documents.Document
		for i := range docs {
			if docs[i].ID == in.DocumentID {
				doc = &docs[i]
				break
			}
		}
		if doc == nil {
			return ErrInvalidInput
		}
		if in.Page > doc.PageCount {
			return ErrInvalidInput
		}
		fields, err := s.Repo.ListFields(ctx, envelopeID)
		if err != nil {
			return err
		}
		if s.Caps.MaxFields > 0 && len(fields) >= s.Caps.MaxFields {
			return ErrLimitExceeded
		}
		out, err = s.Repo.AddField(ctx, f)
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventFieldAdded,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"field_id": out.ID, "type": string(in.Type), "document_id": in.DocumentID},
		})
		return err
	})
	if err != nil {
		return Field{}, err
	}
	return out, nil
}

// UpdateField patches a field's placement or assignment. Drafts only.
func (s *Service) UpdateField(ctx context.Context, senderID, envelopeID, fieldID string, patch FieldPatch) (Field, error) {
	var out Field
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		f, err := s.Repo.GetField(ctx, fieldID)
		if err != nil {
			return err
		}
		if f.EnvelopeID != envelopeID {
			return ErrNotFound
		}
		if patch.RecipientID != nil {
			rec, err := s.Repo.GetRecipient(ctx, *patch.RecipientID)
			if err != nil {
				return err
			}
			if rec.EnvelopeID != envelopeID {
				return ErrInvalidInput
			}
		}
		preview := applyFieldPatch(f, patch)
		if !preview.GeometryValid() {
			return ErrInvalidInput
		}
		out, err = s.Repo.UpdateField(ctx, fieldID, patch)
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventFieldUpdated,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"field_id": fieldID},
		})
		return err
	})
	if err != nil {
		return Field{}, err
	}
	return out, nil
}

// RemoveField deletes a field. Drafts only.
func (s *Service) RemoveField(ctx context.Context, senderID, envelopeID, fieldID string) error {
	return s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}
		f, err := s.Repo.GetField(ctx, fieldID)
		if err != nil {
			return err
		}
		if f.EnvelopeID != envelopeID {
			return ErrNotFound
		}
		if err := s.Repo.RemoveField(ctx, fieldID); err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventFieldRemoved,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"field_id": fieldID},
		})
		return err
	})
}

// Send freezes the envelope and opens it for signing. All post-conditions
// commit in one transaction; workflow hooks fire after commit.
func (s *Service) Send(ctx context.Context, senderID, envelopeID string) (Envelope, error) {
	var (
		out  Envelope
		next []Recipient
	)
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if env.Status != StatusDraft {
			return ErrInvalidState
		}

		docs, err := s.Docs.ListByEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		recs, err := s.Repo.ListRecipients(ctx, envelopeID)
		if err != nil {
			return err
		}
		fields, err := s.Repo.ListFields(ctx, envelopeID)
		if err != nil {
			return err
		}
		if err := s.sendable(docs, recs, fields); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, rec := range recs {
			if rec.Role == RoleViewer {
				continue
			}
			token, err := util.MintToken(s.TokenBytes)
			if err != nil {
				return err
			}
			if err := s.Repo.SetAccessToken(ctx, rec.ID, token, now.Add(s.TokenTTL)); err != nil {
				return err
			}
		}

		next = NextRecipients(recs)
		for _, rec := range next {
			if _, err := s.Repo.SetRecipientStatus(ctx, rec.ID, RecipientSent, now); err != nil {
				return err
			}
		}

		out, err = s.Repo.SetStatus(ctx, envelopeID, StatusChange{Status: StatusSent, SentAt: &now})
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventEnvelopeSent,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"recipients": len(recs), "documents": len(docs)},
		})
		return err
	})
	if err != nil {
		return Envelope{}, err
	}
	if s.Hooks != nil {
		s.Hooks.EnvelopeSent(ctx, out, next)
	}
	return out, nil
}

func (s *Service) sendable(docs []documents.Document, recs []Recipient, fields []Field) error {
	if len(docs) == 0 {
		return ErrInvalidState
	}
	hasSigner := false
	recByID := make(map[string]Recipient, len(recs))
	for _, rec := range recs {
		recByID[rec.ID] = rec
		if rec.Role.CountsTowardCompletion() {
			hasSigner = true
		}
	}
	if !hasSigner {
		return ErrInvalidState
	}
	for _, f := range fields {
		if f.Required {
			if _, ok := recByID[f.RecipientID]; !ok {
				return ErrInvalidState
			}
		}
	}
	if s.Caps.MaxDocuments > 0 && len(docs) > s.Caps.MaxDocuments {
		return ErrLimitExceeded
	}
	if s.Caps.MaxRecipients > 0 && len(recs) > s.Caps.MaxRecipients {
		return ErrLimitExceeded
	}
	if s.Caps.MaxFields > 0 && len(fields) > s.Caps.MaxFields {
		return ErrLimitExceeded
	}
	return nil
}

// Void cancels an envelope in draft, sent, or in_progress.
func (s *Service) Void(ctx context.Context, senderID, envelopeID, reason string) (Envelope, error) {
	if strings.TrimSpace(reason) == "" {
		return Envelope{}, ErrInvalidInput
	}
	var out Envelope
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.owned(ctx, senderID, envelopeID)
		if err != nil {
			return err
		}
		if !CanTransition(env.Status, StatusVoided) {
			return ErrInvalidState
		}
		out, err = s.Repo.SetStatus(ctx, envelopeID, StatusChange{Status: StatusVoided, VoidReason: reason})
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventEnvelopeVoided,
			ActorType:  audit.ActorUser,
			ActorID:    senderID,
			Metadata:   map[string]any{"reason": reason},
		})
		return err
	})
	if err != nil {
		return Envelope{}, err
	}
	return out, nil
}

// Expire transitions a sent or in-progress envelope whose deadline passed.
// Called by the expiration sweep; terminal, halts reminders.
func (s *Service) Expire(ctx context.Context, envelopeID string) (Envelope, error) {
	var out Envelope
	err := s.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, err := s.Repo.GetByID(ctx, envelopeID)
		if err != nil {
			return err
		}
		if !CanTransition(env.Status, StatusExpired) {
			return ErrInvalidState
		}
		out, err = s.Repo.SetStatus(ctx, envelopeID, StatusChange{Status: StatusExpired})
		if err != nil {
			return err
		}
		_, err = s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventEnvelopeExpired,
			ActorType:  audit.ActorSystem,
		})
		return err
	})
	if err != nil {
		return Envelope{}, err
	}
	if s.Hooks != nil {
		s.Hooks.EnvelopeExpired(ctx, out)
	}
	return out, nil
}

// RecordView marks a recipient's first open and moves the envelope to
// in_progress on the first view. Caller holds the envelope's Runner scope.
func (s *Service) RecordView(ctx context.Context, env Envelope, rec Recipient, ip, userAgent string) (Envelope, Recipient, error) {
	now := time.Now().UTC()
	if rec.Status == RecipientPending || rec.Status == RecipientSent {
		updated, err := s.Repo.SetRecipientStatus(ctx, rec.ID, RecipientViewed, now)
		if err != nil {
			return env, rec, err
		}
		rec = updated
		if _, err := s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: env.ID,
			Type:       audit.EventRecipientViewed,
			ActorType:  audit.ActorRecipient,
			ActorID:    rec.ID,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Metadata:   map[string]any{"email": rec.Email},
		}); err != nil {
			return env, rec, err
		}
	}
	if env.Status == StatusSent {
		updated, err := s.Repo.SetStatus(ctx, env.ID, StatusChange{Status: StatusInProgress})
		if err != nil {
			return env, rec, err
		}
		env = updated
	}
	return env, rec, nil
}

// AdvanceResult describes the envelope movement caused by one recipient's
// terminal action.
type AdvanceResult struct {
	Envelope  Envelope
	Completed bool
	Next      []Recipient
}

// AdvanceAfterSign marks the recipient signed, activates the next routing
// slot or completes the envelope. Caller holds the envelope's Runner scope
// and fires hooks after commit.
func (s *Service) AdvanceAfterSign(ctx context.Context, env Envelope, rec Recipient) (AdvanceResult, error) {
	now := time.Now().UTC()
	if _, err := s.Repo.SetRecipientStatus(ctx, rec.ID, RecipientSigned, now); err != nil {
		return AdvanceResult{}, err
	}
	if _, err := s.Audit.Append(ctx, audit.Entry{
		EnvelopeID: env.ID,
		Type:       audit.EventRecipientSigned,
		ActorType:  audit.ActorRecipient,
		ActorID:    rec.ID,
		Metadata:   map[string]any{"email": rec.Email, "routing_order": rec.RoutingOrder},
	}); err != nil {
		return AdvanceResult{}, err
	}

	// The first terminal action moves the envelope off `sent`; completion
	// below always departs from in_progress.
	if env.Status == StatusSent {
		updated, err := s.Repo.SetStatus(ctx, env.ID, StatusChange{Status: StatusInProgress})
		if err != nil {
			return AdvanceResult{}, err
		}
		env = updated
	}

	recs, err := s.Repo.ListRecipients(ctx, env.ID)
	if err != nil {
		return AdvanceResult{}, err
	}

	if AllRequiredSigned(recs) {
		updated, err := s.Repo.SetStatus(ctx, env.ID, StatusChange{Status: StatusCompleted, CompletedAt: &now})
		if err != nil {
			return AdvanceResult{}, err
		}
		if _, err := s.Audit.Append(ctx, audit.Entry{
			EnvelopeID: env.ID,
			Type:       audit.EventEnvelopeCompleted,
			ActorType:  audit.ActorSystem,
		}); err != nil {
			return AdvanceResult{}, err
		}
		return AdvanceResult{Envelope: updated, Completed: true}, nil
	}

	next := NextRecipients(recs)
	for _, n := range next {
		if n.Status == RecipientPending {
			if _, err := s.Repo.SetRecipientStatus(ctx, n.ID, RecipientSent, now); err != nil {
				return AdvanceResult{}, err
			}
		}
	}
	return AdvanceResult{Envelope: env, Next: next}, nil
}

// RecordDecline marks the recipient declined. The envelope stays in place for
// the sender to void or re-route. Caller holds the envelope's Runner scope.
func (s *Service) RecordDecline(ctx context.Context, env Envelope, rec Recipient, reason, ip, userAgent string) (Recipient, error) {
	now := time.Now().UTC()
	updated, err := s.Repo.SetRecipientDeclined(ctx, rec.ID, reason, now)
	if err != nil {
		return rec, err
	}
	_, err = s.Audit.Append(ctx, audit.Entry{
		EnvelopeID: env.ID,
		Type:       audit.EventRecipientDeclined,
		ActorType:  audit.ActorRecipient,
		ActorID:    rec.ID,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Metadata:   map[string]any{"email": rec.Email, "reason": reason},
	})
	if err != nil {
		return rec, err
	}
	return updated, nil
}

func (s *Service) owned(ctx context.Context, senderID, envelopeID string) (Envelope, error) {
	env, err := s.Repo.GetByID(ctx, envelopeID)
	if err != nil {
		return Envelope{}, err
	}
	if env.SenderID != senderID {
		return Envelope{}, ErrForbidden
	}
	return env, nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusSent, StatusInProgress, StatusCompleted, StatusVoided, StatusExpired:
		return true
	}
	return false
}

func applyFieldPatch(f Field, patch FieldPatch) Field {
	if patch.Page != nil {
		f.Page = *patch.Page
	}
	if patch.X != nil {
		f.X = *patch.X
	}
	if patch.Y != nil {
		f.Y = *patch.Y
	}
	if patch.Width != nil {
		f.Width = *patch.Width
	}
	if patch.Height != nil {
		f.Height = *patch.Height
	}
	return f
}

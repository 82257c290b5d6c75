package envelopes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo for dev and tests.
type MemoryRepo struct {
	mu         sync.Mutex
	nextSeq    int64
	envelopes  map[string]Envelope
	recipients map[string]Recipient
	fields     map[string]Field
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		envelopes:  make(map[string]Envelope),
		recipients: make(map[string]Recipient),
		fields:     make(map[string]Field),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, env Envelope) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	env.Seq = r.nextSeq
	env.UpdatedAt = env.CreatedAt
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	r.envelopes[env.ID] = env
	return env, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envelopes[id]
	if !ok {
		return Envelope{}, ErrNotFound
	}
	return env, nil
}

func (r *MemoryRepo) ListBySender(ctx context.Context, senderID string, filter ListFilter) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Envelope
	for _, env := range r.envelopes {
		if env.SenderID != senderID {
			continue
		}
		if filter.Status != "" && env.Status != filter.Status {
			continue
		}
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, patch EnvelopePatch) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envelopes[id]
	if !ok {
		return Envelope{}, ErrNotFound
	}
	if patch.Title != nil {
		env.Title = *patch.Title
	}
	if patch.Subject != nil {
		env.Subject = *patch.Subject
	}
	if patch.Message != nil {
		env.Message = *patch.Message
	}
	if patch.Priority != nil {
		env.Priority = *patch.Priority
	}
	if patch.ReminderCadence != nil {
		env.ReminderCadence = *patch.ReminderCadence
	}
	if patch.Metadata != nil {
		env.Metadata = patch.Metadata
	}
	if patch.ClearExpiresAt {
		env.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		t := patch.ExpiresAt.UTC()
		env.ExpiresAt = &t
	}
	env.UpdatedAt = time.Now().UTC()
	r.envelopes[id] = env
	return env, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, change StatusChange) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envelopes[id]
	if !ok {
		return Envelope{}, ErrNotFound
	}
	env.Status = change.Status
	if change.VoidReason != "" {
		env.VoidReason = change.VoidReason
	}
	if change.SentAt != nil {
		t := change.SentAt.UTC()
		env.SentAt = &t
	}
	if change.CompletedAt != nil {
		t := change.CompletedAt.UTC()
		env.CompletedAt = &t
	}
	env.UpdatedAt = time.Now().UTC()
	r.envelopes[id] = env
	return env, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.envelopes[id]; !ok {
		return ErrNotFound
	}
	delete(r.envelopes, id)
	for rid, rec := range r.recipients {
		if rec.EnvelopeID == id {
			delete(r.recipients, rid)
		}
	}
	for fid, f := range r.fields {
		if f.EnvelopeID == id {
			delete(r.fields, fid)
		}
	}
	return nil
}

func (r *MemoryRepo) ListByStatusBefore(ctx context.Context, statuses []Status, cutoff time.Time) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []Envelope
	for _, env := range r.envelopes {
		if !want[env.Status] || env.ExpiresAt == nil || env.ExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (r *MemoryRepo) ListWithReminderCadence(ctx context.Context, statuses []Status) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []Envelope
	for _, env := range r.envelopes {
		if !want[env.Status] || env.ReminderCadence == ReminderNone || env.ReminderCadence == "" {
			continue
		}
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *MemoryRepo) AddRecipient(ctx context.Context, rec Recipient) (Recipient, error) {
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.recipients {
		if existing.EnvelopeID == rec.EnvelopeID && strings.EqualFold(existing.Email, rec.Email) {
			return Recipient{}, ErrDuplicate
		}
	}
	if rec.Permissions == nil {
		rec.Permissions = map[string]any{}
	}
	r.recipients[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepo) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListRecipients(ctx context.Context, envelopeID string) ([]Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Recipient
	for _, rec := range r.recipients {
		if rec.EnvelopeID == envelopeID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoutingOrder != out[j].RoutingOrder {
			return out[i].RoutingOrder < out[j].RoutingOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) RemoveRecipient(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recipients[id]; !ok {
		return ErrNotFound
	}
	delete(r.recipients, id)
	for fid, f := range r.fields {
		if f.RecipientID == id {
			delete(r.fields, fid)
		}
	}
	return nil
}

func (r *MemoryRepo) SetRecipientStatus(ctx context.Context, id string, status RecipientStatus, at time.Time) (Recipient, error) {
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	rec.Status = status
	at = at.UTC()
	switch status {
	case RecipientViewed:
		rec.ViewedAt = &at
	case RecipientSigned:
		rec.SignedAt = &at
	}
	r.recipients[id] = rec
	return rec, nil
}

func (r *MemoryRepo) SetRecipientDeclined(ctx context.Context, id string, reason string, at time.Time) (Recipient, error) {
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipients[id]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	at = at.UTC()
	rec.Status = RecipientDeclined
	rec.DeclineReason = reason
	rec.DeclinedAt = &at
	r.recipients[id] = rec
	return rec, nil
}

func (r *MemoryRepo) SetAccessToken(ctx context.Context, id string, token string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipients[id]
	if !ok {
		return ErrNotFound
	}
	expiresAt = expiresAt.UTC()
	rec.AccessToken = token
	rec.TokenExpiresAt = &expiresAt
	r.recipients[id] = rec
	return nil
}

func (r *MemoryRepo) AddField(ctx context.Context, f Field) (Field, error) {
	if err := ctx.Err(); err != nil {
		return Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Validation == nil {
		f.Validation = map[string]any{}
	}
	r.fields[f.ID] = f
	return f, nil
}

func (r *MemoryRepo) GetField(ctx context.Context, id string) (Field, error) {
	if err := ctx.Err(); err != nil {
		return Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[id]
	if !ok {
		return Field{}, ErrNotFound
	}
	return f, nil
}

func (r *MemoryRepo) ListFields(ctx context.Context, envelopeID string) ([]Field, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Field
	for _, f := range r.fields {
		if f.EnvelopeID == envelopeID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) UpdateField(ctx context.Context, id string, patch FieldPatch) (Field, error) {
	if err := ctx.Err(); err != nil {
		return Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[id]
	if !ok {
		return Field{}, ErrNotFound
	}
	if patch.RecipientID != nil {
		f.RecipientID = *patch.RecipientID
	}
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
	if patch.Required != nil {
		f.Required = *patch.Required
	}
	if patch.DefaultValue != nil {
		f.DefaultValue = *patch.DefaultValue
	}
	if patch.Validation != nil {
		f.Validation = patch.Validation
	}
	r.fields[id] = f
	return f, nil
}

func (r *MemoryRepo) SetFieldValue(ctx context.Context, id string, value string, signedAt *time.Time) (Field, error) {
	if err := ctx.Err(); err != nil {
		return Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[id]
	if !ok {
		return Field{}, ErrNotFound
	}
	f.Value = value
	if signedAt != nil {
		t := signedAt.UTC()
		f.SignedAt = &t
	}
	r.fields[id] = f
	return f, nil
}

func (r *MemoryRepo) RemoveField(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fields[id]; !ok {
		return ErrNotFound
	}
	delete(r.fields, id)
	return nil
}

var _ Repo = (*MemoryRepo)(nil)

package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/shared/metrics"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/storage/object"
	"esign-backend/internal/shared/telemetry"
	"esign-backend/internal/shared/util"
)

// ErrInvalidToken is returned for any token failure: unknown, expired, or
// bound to another envelope. Deliberately opaque.
var ErrInvalidToken = errors.New("access link expired or invalid")

// CertificateScheduler is invoked once per envelope completion.
type CertificateScheduler interface {
	Generate(ctx context.Context, envelopeID string) error
}

// Controller executes a recipient's signing flow: token resolution, routing
// check, document hashing, provider call, evidence persistence, and envelope
// advancement. The provider call happens between two transaction scopes; a
// staged evidence row written in the first scope makes the flow idempotent
// under retries.
type Controller struct {
	Envelopes    *envelopes.Service
	Repo         envelopes.Repo
	Docs         documents.Repo
	Store        object.Store
	Evidence     EvidenceRepo
	Audit        audit.Repo
	Runner       db.Runner
	Provider     Provider
	Certificates CertificateScheduler
	Hooks        envelopes.Hooks

	cache *tokenCache
}

// NewController wires a Controller around an envelope service.
func NewController(svc *envelopes.Service, store object.Store, evidence EvidenceRepo, provider Provider) *Controller {
	return &Controller{
		Envelopes: svc,
		Repo:      svc.Repo,
		Docs:      svc.Docs,
		Audit:     svc.Audit,
		Runner:    svc.Runner,
		Hooks:     svc.Hooks,
		Store:     store,
		Evidence:  evidence,
		Provider:  provider,
		cache:     newTokenCache(),
	}
}

// SignInput is one signing attempt.
type SignInput struct {
	EnvelopeID  string
	AccessToken string
	FieldValues map[string]string
	IP          string
	UserAgent   string
}

// SignOutcome reports a committed signing.
type SignOutcome struct {
	EvidenceID string
	DocHashes  []DocHash
	Completed  bool
	Replayed   bool
}

// Session is what a recipient sees when opening their signing link.
type Session struct {
	Envelope  envelopes.Envelope
	Recipient envelopes.Recipient
	Documents []documents.Document
	Fields    []envelopes.Field
	YourTurn  bool
}

// Resolve opens a signing session and records the first view, moving the
// envelope to in_progress.
func (c *Controller) Resolve(ctx context.Context, envelopeID, token, ip, userAgent string) (Session, error) {
	var session Session
	err := c.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		env, rec, err := c.authenticate(ctx, envelopeID, token)
		if err != nil {
			return err
		}
		if env.Status.Terminal() {
			return envelopes.ErrInvalidState
		}
		env, rec, err = c.Envelopes.RecordView(ctx, env, rec, ip, userAgent)
		if err != nil {
			return err
		}
		docs, err := c.Docs.ListByEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		all, err := c.Repo.ListFields(ctx, envelopeID)
		if err != nil {
			return err
		}
		var mine []envelopes.Field
		for _, f := range all {
			if f.RecipientID == rec.ID {
				mine = append(mine, f)
			}
		}
		recs, err := c.Repo.ListRecipients(ctx, envelopeID)
		if err != nil {
			return err
		}
		session = Session{
			Envelope:  env,
			Recipient: rec,
			Documents: docs,
			Fields:    mine,
			YourTurn:  envelopes.IsTurn(recs, rec.ID),
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// Sign executes the full signing flow for one recipient.
func (c *Controller) Sign(ctx context.Context, in SignInput) (SignOutcome, error) {
	metrics.IncSignAttempt()
	start := time.Now()

	var (
		staged      Evidence
		payloadSum  string
		docHashes   []DocHash
		recID       string
		replay      *SignOutcome
		payloadBody []byte
	)

	// First scope: authenticate, enforce routing, hash documents, stage the
	// evidence row. Committing before the provider call bounds double-signing.
	err := c.Runner.InTx(ctx, in.EnvelopeID, func(ctx context.Context) error {
		env, rec, err := c.authenticate(ctx, in.EnvelopeID, in.AccessToken)
		if err != nil {
			return err
		}
		recID = rec.ID

		// Idempotence: a recipient who already committed gets the stored
		// outcome back instead of a second evidence row. Checked before the
		// state gate so a replay still resolves once the envelope completes.
		if rec.Status == envelopes.RecipientSigned {
			prior, ok, err := c.Evidence.LatestComplete(ctx, env.ID, rec.ID)
			if err != nil {
				return err
			}
			if ok {
				hashes, err := docHashesFromPayload(prior.Payload)
				if err != nil {
					return err
				}
				replay = &SignOutcome{
					EvidenceID: prior.ID,
					DocHashes:  hashes,
					Completed:  env.Status == envelopes.StatusCompleted,
					Replayed:   true,
				}
				return nil
			}
		}

		if env.Status.Terminal() {
			return envelopes.ErrInvalidState
		}
		if env.Status == envelopes.StatusDraft {
			return envelopes.ErrInvalidState
		}

		recs, err := c.Repo.ListRecipients(ctx, env.ID)
		if err != nil {
			return err
		}
		if !envelopes.IsTurn(recs, rec.ID) {
			return envelopes.ErrOutOfTurn
		}

		docs, err := c.Docs.ListByEnvelope(ctx, env.ID)
		if err != nil {
			return err
		}
		docHashes, err = HashDocuments(ctx, c.Store, docs)
		if err != nil {
			return err
		}

		if err := c.validateFieldValues(ctx, env.ID, rec.ID, in.FieldValues); err != nil {
			return err
		}

		payload := Payload{
			EnvelopeID:     env.Seq,
			EnvelopeUUID:   env.ID,
			RecipientID:    rec.ID,
			RecipientEmail: rec.Email,
			Intent:         IntentApproveAndSign,
			DocHashes:      docHashes,
			Timestamp:      time.Now().UTC(),
			IP:             in.IP,
			UserAgent:      in.UserAgent,
			Nonce:          uuid.NewString(),
		}
		payloadBody, err = payload.Canonical()
		if err != nil {
			return fmt.Errorf("canonical payload: %w", err)
		}
		payloadSum = util.SHA256Hex(payloadBody)

		staged, err = c.Evidence.Stage(ctx, Evidence{
			ID:          uuid.NewString(),
			EnvelopeID:  env.ID,
			RecipientID: rec.ID,
			Payload:     string(payloadBody),
			PayloadHash: payloadSum,
			CreatedAt:   time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		metrics.IncSignFailed()
		return SignOutcome{}, err
	}
	if replay != nil {
		return *replay, nil
	}

	// Provider call outside the lock; the staged row carries the payload hash
	// as idempotency key.
	res, signErr := c.Provider.Sign(ctx, payloadBody)
	if signErr != nil {
		c.orphan(staged.ID, in.EnvelopeID)
		metrics.IncSignFailed()
		return SignOutcome{}, signErr
	}

	// Second scope: commit the evidence, write field values, advance.
	var advance envelopes.AdvanceResult
	err = c.Runner.InTx(ctx, in.EnvelopeID, func(ctx context.Context) error {
		env, err := c.Repo.GetByID(ctx, in.EnvelopeID)
		if err != nil {
			return err
		}
		if env.Status.Terminal() {
			return envelopes.ErrInvalidState
		}
		rec, err := c.Repo.GetRecipient(ctx, recID)
		if err != nil {
			return err
		}
		if !rec.Status.Blocking() {
			return envelopes.ErrInvalidState
		}

		if err := c.Evidence.Complete(ctx, staged.ID, res); err != nil {
			return err
		}
		if err := c.writeFieldValues(ctx, env.ID, rec.ID, in.FieldValues); err != nil {
			return err
		}
		advance, err = c.Envelopes.AdvanceAfterSign(ctx, env, rec)
		return err
	})
	if err != nil {
		c.orphan(staged.ID, in.EnvelopeID)
		metrics.IncSignFailed()
		return SignOutcome{}, err
	}

	metrics.IncSignCompleted()
	metrics.ObserveSignDurationMs(float64(time.Since(start)) / float64(time.Millisecond))

	c.afterAdvance(ctx, advance)
	return SignOutcome{
		EvidenceID: staged.ID,
		DocHashes:  docHashes,
		Completed:  advance.Completed,
	}, nil
}

// Decline records a recipient's refusal to sign.
func (c *Controller) Decline(ctx context.Context, envelopeID, token, reason, ip, userAgent string) error {
	var (
		env envelopes.Envelope
		rec envelopes.Recipient
	)
	err := c.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		var err error
		env, rec, err = c.authenticate(ctx, envelopeID, token)
		if err != nil {
			return err
		}
		if env.Status.Terminal() || env.Status == envelopes.StatusDraft {
			return envelopes.ErrInvalidState
		}
		if !rec.Status.Blocking() {
			return envelopes.ErrInvalidState
		}
		rec, err = c.Envelopes.RecordDecline(ctx, env, rec, reason, ip, userAgent)
		return err
	})
	if err != nil {
		return err
	}
	if c.Hooks != nil {
		c.Hooks.RecipientDeclined(ctx, env, rec)
	}
	return nil
}

// authenticate resolves the recipient by (envelope, token) using constant-time
// comparison. Any failure is reported as the same opaque error.
func (c *Controller) authenticate(ctx context.Context, envelopeID, token string) (envelopes.Envelope, envelopes.Recipient, error) {
	if token == "" {
		return envelopes.Envelope{}, envelopes.Recipient{}, ErrInvalidToken
	}
	env, err := c.Repo.GetByID(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, envelopes.ErrNotFound) {
			return envelopes.Envelope{}, envelopes.Recipient{}, ErrInvalidToken
		}
		return envelopes.Envelope{}, envelopes.Recipient{}, err
	}

	if cachedID, ok := c.cache.get(token); ok {
		rec, err := c.Repo.GetRecipient(ctx, cachedID)
		if err == nil && rec.EnvelopeID == envelopeID && tokenValid(rec, token) {
			return env, rec, nil
		}
		c.cache.drop(token)
	}

	recs, err := c.Repo.ListRecipients(ctx, envelopeID)
	if err != nil {
		return envelopes.Envelope{}, envelopes.Recipient{}, err
	}
	var match *envelopes.Recipient
	for i := range recs {
		// Compare every row to keep timing independent of match position.
		if tokenValid(recs[i], token) && match == nil {
			match = &recs[i]
		}
	}
	if match == nil {
		return envelopes.Envelope{}, envelopes.Recipient{}, ErrInvalidToken
	}
	c.cache.put(token, match.ID)
	return env, *match, nil
}

func tokenValid(rec envelopes.Recipient, token string) bool {
	if !util.TokensEqual(rec.AccessToken, token) {
		return false
	}
	if rec.TokenExpiresAt != nil && time.Now().After(*rec.TokenExpiresAt) {
		return false
	}
	return true
}

// validateFieldValues rejects values on fields assigned to other recipients
// and requires every required field of this recipient to end up non-empty.
func (c *Controller) validateFieldValues(ctx context.Context, envelopeID, recipientID string, values map[string]string) error {
	fields, err := c.Repo.ListFields(ctx, envelopeID)
	if err != nil {
		return err
	}
	mine := make(map[string]envelopes.Field)
	for _, f := range fields {
		if f.RecipientID == recipientID {
			mine[f.ID] = f
		}
	}
	for fieldID := range values {
		if _, ok := mine[fieldID]; !ok {
			return envelopes.ErrInvalidInput
		}
	}
	for _, f := range mine {
		if !f.Required {
			continue
		}
		if values[f.ID] == "" && f.Value == "" && f.DefaultValue == "" {
			return envelopes.ErrInvalidInput
		}
	}
	return nil
}

func (c *Controller) writeFieldValues(ctx context.Context, envelopeID, recipientID string, values map[string]string) error {
	fields, err := c.Repo.ListFields(ctx, envelopeID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, f := range fields {
		if f.RecipientID != recipientID {
			continue
		}
		value := values[f.ID]
		if value == "" {
			if f.Value != "" {
				continue
			}
			value = f.DefaultValue
		}
		if value == "" {
			continue
		}
		if _, err := c.Repo.SetFieldValue(ctx, f.ID, value, &now); err != nil {
			return err
		}
	}
	return nil
}

// orphan marks a staged evidence row after a failed flow. The row is kept
// for forensics; failures here are logged, not surfaced.
func (c *Controller) orphan(evidenceID, envelopeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		return c.Evidence.MarkOrphan(ctx, evidenceID)
	})
	if err != nil {
		telemetry.Error("failed to orphan staged evidence", map[string]any{
			"evidence_id": evidenceID,
			"envelope_id": envelopeID,
			"error":       err.Error(),
		})
	}
}

func (c *Controller) afterAdvance(ctx context.Context, advance envelopes.AdvanceResult) {
	if advance.Completed {
		if c.Hooks != nil {
			c.Hooks.EnvelopeCompleted(ctx, advance.Envelope)
		}
		if c.Certificates != nil {
			if err := c.Certificates.Generate(ctx, advance.Envelope.ID); err != nil {
				telemetry.Error("certificate generation failed", map[string]any{
					"envelope_id": advance.Envelope.ID,
					"error":       err.Error(),
				})
			}
		}
		return
	}
	if len(advance.Next) > 0 && c.Hooks != nil {
		c.Hooks.RecipientTurn(ctx, advance.Envelope, advance.Next)
	}
}

func docHashesFromPayload(payload string) ([]DocHash, error) {
	var parsed struct {
		DocHashes []DocHash `json:"doc_hashes"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("decode evidence payload: %w", err)
	}
	return parsed.DocHashes, nil
}

package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/storage/object"
	"esign-backend/internal/shared/storage/object/local"
	"esign-backend/internal/shared/util"
)

type fixture struct {
	svc      *envelopes.Service
	docs     *documents.MemoryRepo
	audit    *audit.MemoryRepo
	store    object.Store
	evidence *MemoryEvidenceRepo
	provider *SoftwareProvider
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := documents.NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	svc := &envelopes.Service{
		Repo:       envelopes.NewMemoryRepo(),
		Docs:       docs,
		Audit:      auditRepo,
		Runner:     db.NewMemoryRunner(),
		Caps:       envelopes.Caps{MaxDocuments: 50, MaxRecipients: 200, MaxFields: 5000},
		TokenBytes: 16,
		TokenTTL:   30 * 24 * time.Hour,
	}
	provider, err := NewSoftwareProvider()
	if err != nil {
		t.Fatalf("NewSoftwareProvider: %v", err)
	}
	store := local.New(t.TempDir())
	evidence := NewMemoryEvidenceRepo()
	return &fixture{
		svc:      svc,
		docs:     docs,
		audit:    auditRepo,
		store:    store,
		evidence: evidence,
		provider: provider,
		ctrl:     NewController(svc, store, evidence, provider),
	}
}

// seedSentEnvelope assembles and sends an envelope with the given signer
// emails mapped to routing orders, one required signature field each.
func (f *fixture) seedSentEnvelope(t *testing.T, sender string, orders map[string]int, docBytes []byte) (envelopes.Envelope, map[string]envelopes.Recipient) {
	t.Helper()
	ctx := context.Background()

	env, err := f.svc.Create(ctx, sender, envelopes.CreateInput{Title: "Test-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	docID := uuid.NewString()
	key := "documents/" + docID + ".pdf"
	size, err := f.store.Put(ctx, key, documents.MimePDF, bytes.NewReader(docBytes))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	doc := documents.Document{
		ID: docID, OwnerID: sender, OriginalFilename: "contract.pdf",
		StorageKey: key, SizeBytes: size, MimeType: documents.MimePDF,
		PageCount: 1, CreatedAt: time.Now().UTC(),
	}
	if err := f.docs.Create(ctx, doc); err != nil {
		t.Fatalf("doc create: %v", err)
	}
	if err := f.svc.AttachDocument(ctx, sender, env.ID, docID, 1); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}

	recs := make(map[string]envelopes.Recipient)
	for email, order := range orders {
		rec, err := f.svc.AddRecipient(ctx, sender, env.ID, envelopes.RecipientInput{
			Email: email, Role: envelopes.RoleSigner, RoutingOrder: order,
		})
		if err != nil {
			t.Fatalf("AddRecipient %s: %v", email, err)
		}
		if _, err := f.svc.AddField(ctx, sender, env.ID, envelopes.FieldInput{
			DocumentID: docID, RecipientID: rec.ID, Type: envelopes.FieldSignature,
			Page: 1, X: 0.2, Y: 0.8, Width: 0.3, Height: 0.08, Required: true,
		}); err != nil {
			t.Fatalf("AddField: %v", err)
		}
		recs[email] = rec
	}

	if _, err := f.svc.Send(ctx, sender, env.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for email, rec := range recs {
		fresh, err := f.svc.Repo.GetRecipient(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetRecipient: %v", err)
		}
		recs[email] = fresh
	}
	sent, err := f.svc.Repo.GetByID(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return sent, recs
}

func (f *fixture) fieldFor(t *testing.T, envID, recipientID string) envelopes.Field {
	t.Helper()
	fields, err := f.svc.Repo.ListFields(context.Background(), envID)
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	for _, fd := range fields {
		if fd.RecipientID == recipientID {
			return fd
		}
	}
	t.Fatalf("no field for recipient %s", recipientID)
	return envelopes.Field{}
}

func TestSignHappyPathSingleSigner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docBytes := []byte("%PDF-1.4 single-signer-bytes")
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{"alice@example.com": 1}, docBytes)
	alice := recs["alice@example.com"]
	field := f.fieldFor(t, env.ID, alice.ID)

	out, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID:  env.ID,
		AccessToken: alice.AccessToken,
		FieldValues: map[string]string{field.ID: "A.S."},
		IP:          "203.0.113.5",
		UserAgent:   "test-agent",
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !out.Completed {
		t.Fatal("single signer must complete the envelope")
	}
	if len(out.DocHashes) != 1 || out.DocHashes[0].SHA256 != util.SHA256Hex(docBytes) {
		t.Fatalf("doc hash must cover the stored bytes, got %+v", out.DocHashes)
	}

	final, _ := f.svc.Repo.GetByID(ctx, env.ID)
	if final.Status != envelopes.StatusCompleted || final.CompletedAt == nil {
		t.Fatalf("expected completed envelope, got %+v", final)
	}

	got := f.fieldFor(t, env.ID, alice.ID)
	if got.Value != "A.S." || got.SignedAt == nil {
		t.Fatalf("field value must be written with signed_at, got %+v", got)
	}

	evs, _ := f.evidence.ListByEnvelope(ctx, env.ID)
	if len(evs) != 1 || evs[0].Status != EvidenceComplete {
		t.Fatalf("expected one complete evidence, got %+v", evs)
	}
	if err := f.provider.Verify([]byte(evs[0].Payload), evs[0].Signature); err != nil {
		t.Fatalf("signature must verify over the stored payload: %v", err)
	}
	if evs[0].PayloadHash != util.SHA256Hex([]byte(evs[0].Payload)) {
		t.Fatal("payload hash must match stored payload")
	}

	events, _ := f.audit.ListByEnvelope(ctx, env.ID)
	wantOrder := []audit.EventType{
		audit.EventEnvelopeCreated,
		audit.EventDocumentAdded,
		audit.EventRecipientAdded,
		audit.EventFieldAdded,
		audit.EventEnvelopeSent,
		audit.EventRecipientSigned,
		audit.EventEnvelopeCompleted,
	}
	if len(events) != len(wantOrder) {
		t.Fatalf("expected %d events, got %d", len(wantOrder), len(events))
	}
	for i, want := range wantOrder {
		if events[i].Type != want {
			t.Fatalf("event %d: want %s got %s", i, want, events[i].Type)
		}
	}
	chain, err := audit.VerifyChain(events)
	if err != nil || !chain.OK {
		t.Fatalf("chain must verify: %v %+v", err, chain)
	}
}

func TestSignSequentialRoutingEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   2,
	}, []byte("%PDF-1.4 sequential"))
	alice, bob := recs["alice@example.com"], recs["bob@example.com"]

	// Bob first: out of turn.
	_, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID:  env.ID,
		AccessToken: bob.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "B.S."},
	})
	if !errors.Is(err, envelopes.ErrOutOfTurn) {
		t.Fatalf("expected OutOfTurn, got %v", err)
	}

	// Alice signs; Bob activates.
	if _, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID:  env.ID,
		AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	}); err != nil {
		t.Fatalf("alice sign: %v", err)
	}
	bobNow, _ := f.svc.Repo.GetRecipient(ctx, bob.ID)
	if bobNow.Status != envelopes.RecipientSent {
		t.Fatalf("bob must be activated, got %s", bobNow.Status)
	}

	out, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID:  env.ID,
		AccessToken: bob.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "B.S."},
	})
	if err != nil {
		t.Fatalf("bob sign: %v", err)
	}
	if !out.Completed {
		t.Fatal("second signer must complete")
	}

	// Alice's recipient_signed strictly precedes Bob's.
	events, _ := f.audit.ListByEnvelope(ctx, env.ID)
	var signedActors []string
	for _, ev := range events {
		if ev.Type == audit.EventRecipientSigned {
			signedActors = append(signedActors, ev.ActorID)
		}
	}
	if len(signedActors) != 2 || signedActors[0] != alice.ID || signedActors[1] != bob.ID {
		t.Fatalf("sign order must be alice then bob, got %v", signedActors)
	}
}

func TestSignParallelRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   1,
	}, []byte("%PDF-1.4 parallel"))
	alice, bob := recs["alice@example.com"], recs["bob@example.com"]

	out, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID:  env.ID,
		AccessToken: bob.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "B.S."},
	})
	if err != nil {
		t.Fatalf("bob sign: %v", err)
	}
	if out.Completed {
		t.Fatal("completion must wait for both parallel signers")
	}

	out, err = f.ctrl.Sign(ctx, SignInput{
		EnvelopeID:  env.ID,
		AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	})
	if err != nil {
		t.Fatalf("alice sign: %v", err)
	}
	if !out.Completed {
		t.Fatal("both signed: envelope must complete")
	}

	events, _ := f.audit.ListByEnvelope(ctx, env.ID)
	chain, err := audit.VerifyChain(events)
	if err != nil || !chain.OK {
		t.Fatalf("interleaved chain must verify: %v %+v", err, chain)
	}
}

func TestSignIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{"alice@example.com": 1}, []byte("%PDF-1.4 replay"))
	alice := recs["alice@example.com"]
	field := f.fieldFor(t, env.ID, alice.ID)

	first, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{field.ID: "A.S."},
	})
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	second, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{field.ID: "A.S."},
	})
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if !second.Replayed || second.EvidenceID != first.EvidenceID {
		t.Fatalf("replay must return the stored outcome, got %+v", second)
	}
	if !second.Completed {
		t.Fatal("replay on a completed envelope must report completion")
	}
	evs, _ := f.evidence.ListByEnvelope(ctx, env.ID)
	if len(evs) != 1 {
		t.Fatalf("replay must not add evidence rows, got %d", len(evs))
	}
}

func TestSignInvalidTokenOpaque(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, _ := f.seedSentEnvelope(t, "sender-1", map[string]int{"alice@example.com": 1}, []byte("%PDF-1.4 token"))

	// Wrong token on a real envelope and any token on a missing envelope
	// must be indistinguishable.
	_, errWrong := f.ctrl.Sign(ctx, SignInput{EnvelopeID: env.ID, AccessToken: "bogus"})
	_, errMissing := f.ctrl.Sign(ctx, SignInput{EnvelopeID: uuid.NewString(), AccessToken: "bogus"})
	if !errors.Is(errWrong, ErrInvalidToken) || !errors.Is(errMissing, ErrInvalidToken) {
		t.Fatalf("both must be ErrInvalidToken: %v / %v", errWrong, errMissing)
	}
}

func TestSignAfterVoidRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   2,
	}, []byte("%PDF-1.4 void"))
	alice, bob := recs["alice@example.com"], recs["bob@example.com"]

	if _, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	}); err != nil {
		t.Fatalf("alice sign: %v", err)
	}
	if _, err := f.svc.Void(ctx, "sender-1", env.ID, "duplicated"); err != nil {
		t.Fatalf("Void: %v", err)
	}

	_, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: bob.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "B.S."},
	})
	if !errors.Is(err, envelopes.ErrInvalidState) {
		t.Fatalf("signing a voided envelope must fail with InvalidState, got %v", err)
	}

	events, _ := f.audit.ListByEnvelope(ctx, env.ID)
	tail := events[len(events)-1]
	if tail.Type != audit.EventEnvelopeVoided || tail.Metadata["reason"] != "duplicated" {
		t.Fatalf("audit tail must be envelope_voided{reason: duplicated}, got %+v", tail)
	}
	chain, err := audit.VerifyChain(events)
	if err != nil || !chain.OK {
		t.Fatalf("chain must verify: %v %+v", err, chain)
	}
}

type failingProvider struct {
	err   error
	calls int
}

func (p *failingProvider) Sign(ctx context.Context, payload []byte) (Result, error) {
	p.calls++
	return Result{}, p.err
}

func TestSignProviderFailureOrphansEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{"alice@example.com": 1}, []byte("%PDF-1.4 orphan"))
	alice := recs["alice@example.com"]
	f.ctrl.Provider = &failingProvider{err: ErrProviderReject}

	_, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	})
	if !errors.Is(err, ErrProviderReject) {
		t.Fatalf("expected provider rejection, got %v", err)
	}

	evs, _ := f.evidence.ListByEnvelope(ctx, env.ID)
	if len(evs) != 1 || evs[0].Status != EvidenceOrphanUnsigned {
		t.Fatalf("staged row must be orphaned, got %+v", evs)
	}
	rec, _ := f.svc.Repo.GetRecipient(ctx, alice.ID)
	if rec.Status == envelopes.RecipientSigned {
		t.Fatal("recipient must not advance on provider failure")
	}

	// Retry with a working provider produces a fresh evidence row with a
	// distinct sequence number.
	provider, _ := NewSoftwareProvider()
	f.ctrl.Provider = provider
	if _, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	}); err != nil {
		t.Fatalf("retry sign: %v", err)
	}
	evs, _ = f.evidence.ListByEnvelope(ctx, env.ID)
	if len(evs) != 2 || evs[0].Seq == evs[1].Seq {
		t.Fatalf("retry must stage a new row with a new seq, got %+v", evs)
	}
}

func TestSignRejectsOtherRecipientsFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   1,
	}, []byte("%PDF-1.4 cross-field"))
	alice, bob := recs["alice@example.com"], recs["bob@example.com"]

	_, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "forged"},
	})
	if !errors.Is(err, envelopes.ErrInvalidInput) {
		t.Fatalf("writing another recipient's field must fail, got %v", err)
	}
}

func TestTamperDetectionAcrossEvidences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := []byte("%PDF-1.4 original bytes")
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   2,
	}, original)
	alice, bob := recs["alice@example.com"], recs["bob@example.com"]

	if _, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	}); err != nil {
		t.Fatalf("alice sign: %v", err)
	}

	// Swap the bytes behind the blob key between the two signings.
	docs, _ := f.docs.ListByEnvelope(ctx, env.ID)
	tampered := []byte("%PDF-1.4 TAMPERED bytes")
	if _, err := f.store.Put(ctx, docs[0].StorageKey, documents.MimePDF, bytes.NewReader(tampered)); err != nil {
		t.Fatalf("tamper put: %v", err)
	}

	// Bob still signs what is actually on disk.
	out, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: bob.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "B.S."},
	})
	if err != nil {
		t.Fatalf("bob sign: %v", err)
	}
	if out.DocHashes[0].SHA256 != util.SHA256Hex(tampered) {
		t.Fatal("signer must sign the current bytes")
	}

	report, err := f.ctrl.CheckIntegrity(ctx, "sender-1", env.ID)
	if err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
	if report.EvidenceAgreement {
		t.Fatal("divergent doc hashes across evidences must be surfaced")
	}
	if len(report.DivergentDocs) != 1 || report.DivergentDocs[0] != docs[0].ID {
		t.Fatalf("divergent doc list wrong: %+v", report.DivergentDocs)
	}
	if !report.ChainOK {
		t.Fatal("audit chain itself must still verify")
	}
}

func TestResolveRecordsViewAndTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{
		"alice@example.com": 1,
		"bob@example.com":   2,
	}, []byte("%PDF-1.4 view"))
	alice, bob := recs["alice@example.com"], recs["bob@example.com"]

	session, err := f.ctrl.Resolve(ctx, env.ID, alice.AccessToken, "203.0.113.5", "agent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !session.YourTurn {
		t.Fatal("alice is first in routing order")
	}
	if session.Envelope.Status != envelopes.StatusInProgress {
		t.Fatalf("first view must move envelope to in_progress, got %s", session.Envelope.Status)
	}
	if len(session.Fields) != 1 {
		t.Fatalf("session must carry only alice's fields, got %d", len(session.Fields))
	}

	bobSession, err := f.ctrl.Resolve(ctx, env.ID, bob.AccessToken, "203.0.113.6", "agent")
	if err != nil {
		t.Fatalf("Resolve bob: %v", err)
	}
	if bobSession.YourTurn {
		t.Fatal("bob must wait for alice")
	}
}

func TestDeclineFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env, recs := f.seedSentEnvelope(t, "sender-1", map[string]int{"alice@example.com": 1}, []byte("%PDF-1.4 decline"))
	alice := recs["alice@example.com"]

	if err := f.ctrl.Decline(ctx, env.ID, alice.AccessToken, "terms unacceptable", "203.0.113.5", "agent"); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	rec, _ := f.svc.Repo.GetRecipient(ctx, alice.ID)
	if rec.Status != envelopes.RecipientDeclined {
		t.Fatalf("expected declined, got %s", rec.Status)
	}
	// A declined recipient cannot sign with the same link.
	_, err := f.ctrl.Sign(ctx, SignInput{EnvelopeID: env.ID, AccessToken: alice.AccessToken})
	if !errors.Is(err, envelopes.ErrOutOfTurn) && !errors.Is(err, envelopes.ErrInvalidState) {
		t.Fatalf("declined recipient must not sign, got %v", err)
	}
}

func TestPayloadCanonicalDeterminism(t *testing.T) {
	p := Payload{
		EnvelopeID:     7,
		EnvelopeUUID:   "a4c1e2d0-0000-0000-0000-000000000001",
		RecipientID:    "r-1",
		RecipientEmail: "alice@example.com",
		Intent:         IntentApproveAndSign,
		DocHashes:      []DocHash{{DocID: "d-1", SHA256: strings.Repeat("ab", 32)}},
		Timestamp:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		IP:             "203.0.113.5",
		UserAgent:      "agent",
		Nonce:          "n-1",
	}
	a, err := p.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	b, err := p.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("canonical payload must be deterministic")
	}
	if bytes.Contains(a, []byte(" ")) && !bytes.Contains(a, []byte("user_agent")) {
		t.Fatal("canonical payload must not contain insignificant whitespace")
	}
	if !bytes.Contains(a, []byte(`"timestamp":"2026-05-01T12:00:00Z"`)) {
		t.Fatalf("timestamp must be RFC 3339 UTC, got %s", a)
	}
}

func TestHashDocumentsSortedByDocID(t *testing.T) {
	ctx := context.Background()
	store := local.New(t.TempDir())
	var docs []documents.Document
	for i, id := range []string{"zz-doc", "aa-doc", "mm-doc"} {
		key := fmt.Sprintf("documents/%s.pdf", id)
		body := []byte(fmt.Sprintf("%%PDF-1.4 body %d", i))
		if _, err := store.Put(ctx, key, documents.MimePDF, bytes.NewReader(body)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		docs = append(docs, documents.Document{ID: id, StorageKey: key})
	}
	hashes, err := HashDocuments(ctx, store, docs)
	if err != nil {
		t.Fatalf("HashDocuments: %v", err)
	}
	if hashes[0].DocID != "aa-doc" || hashes[1].DocID != "mm-doc" || hashes[2].DocID != "zz-doc" {
		t.Fatalf("hash list must be sorted by doc_id, got %+v", hashes)
	}
}

func TestIntegrityReportOrdersDivergentDocs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := "sender-1"

	env, err := f.svc.Create(ctx, sender, envelopes.CreateInput{Title: "Multi-doc"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	docIDs := []string{"zz-doc", "aa-doc", "mm-doc"}
	for i, docID := range docIDs {
		key := "documents/" + docID + ".pdf"
		body := []byte(fmt.Sprintf("%%PDF-1.4 body %d", i))
		if _, err := f.store.Put(ctx, key, documents.MimePDF, bytes.NewReader(body)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := f.docs.Create(ctx, documents.Document{
			ID: docID, OwnerID: sender, OriginalFilename: "contract.pdf",
			StorageKey: key, SizeBytes: int64(len(body)), MimeType: documents.MimePDF,
			PageCount: 1, CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("doc create: %v", err)
		}
		if err := f.svc.AttachDocument(ctx, sender, env.ID, docID, i+1); err != nil {
			t.Fatalf("AttachDocument: %v", err)
		}
	}
	var recs []envelopes.Recipient
	for i, email := range []string{"alice@example.com", "bob@example.com"} {
		rec, err := f.svc.AddRecipient(ctx, sender, env.ID, envelopes.RecipientInput{
			Email: email, Role: envelopes.RoleSigner, RoutingOrder: i + 1,
		})
		if err != nil {
			t.Fatalf("AddRecipient: %v", err)
		}
		if _, err := f.svc.AddField(ctx, sender, env.ID, envelopes.FieldInput{
			DocumentID: docIDs[0], RecipientID: rec.ID, Type: envelopes.FieldSignature,
			Page: 1, X: 0.2, Y: 0.8, Width: 0.3, Height: 0.08, Required: true,
		}); err != nil {
			t.Fatalf("AddField: %v", err)
		}
		recs = append(recs, rec)
	}
	if _, err := f.svc.Send(ctx, sender, env.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	alice, _ := f.svc.Repo.GetRecipient(ctx, recs[0].ID)
	if _, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: alice.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, alice.ID).ID: "A.S."},
	}); err != nil {
		t.Fatalf("alice sign: %v", err)
	}

	// Rewrite every document between the two signings.
	for _, docID := range docIDs {
		key := "documents/" + docID + ".pdf"
		if _, err := f.store.Put(ctx, key, documents.MimePDF, bytes.NewReader([]byte("%PDF-1.4 swapped "+docID))); err != nil {
			t.Fatalf("tamper put: %v", err)
		}
	}

	bob, _ := f.svc.Repo.GetRecipient(ctx, recs[1].ID)
	if _, err := f.ctrl.Sign(ctx, SignInput{
		EnvelopeID: env.ID, AccessToken: bob.AccessToken,
		FieldValues: map[string]string{f.fieldFor(t, env.ID, bob.ID).ID: "B.S."},
	}); err != nil {
		t.Fatalf("bob sign: %v", err)
	}

	for i := 0; i < 3; i++ {
		report, err := f.ctrl.CheckIntegrity(ctx, sender, env.ID)
		if err != nil {
			t.Fatalf("CheckIntegrity: %v", err)
		}
		if report.EvidenceAgreement {
			t.Fatal("divergent doc hashes across evidences must be surfaced")
		}
		want := []string{"aa-doc", "mm-doc", "zz-doc"}
		if len(report.DivergentDocs) != len(want) {
			t.Fatalf("divergent doc list wrong: %+v", report.DivergentDocs)
		}
		for j, id := range want {
			if report.DivergentDocs[j] != id {
				t.Fatalf("divergent docs must list ids in order, got %+v", report.DivergentDocs)
			}
		}
	}
}

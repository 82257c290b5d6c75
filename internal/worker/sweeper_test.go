package worker

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/queue"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/storage/object/local"
	"esign-backend/internal/workflows"
)

type sweepFixture struct {
	svc    *envelopes.Service
	docs   *documents.MemoryRepo
	audit  *audit.MemoryRepo
	client *queue.MemoryClient
	sw     *Sweeper
}

func newSweepFixture(t *testing.T) *sweepFixture {
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
	client := queue.NewMemoryClient()
	return &sweepFixture{
		svc:    svc,
		docs:   docs,
		audit:  auditRepo,
		client: client,
		sw:     NewSweeper(svc, client, time.Minute),
	}
}

func (f *sweepFixture) sendEnvelope(t *testing.T, cadence envelopes.ReminderCadence, expiresAt *time.Time) envelopes.Envelope {
	t.Helper()
	ctx := context.Background()
	store := local.New(t.TempDir())

	env, err := f.svc.Create(ctx, "sender-1", envelopes.CreateInput{
		Title: "Sweep", ReminderCadence: cadence, ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	docID := uuid.NewString()
	key := "documents/" + docID + ".pdf"
	raw := []byte("%PDF-1.4 sweep")
	size, err := store.Put(ctx, key, documents.MimePDF, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := f.docs.Create(ctx, documents.Document{
		ID: docID, OwnerID: "sender-1", OriginalFilename: "a.pdf",
		StorageKey: key, SizeBytes: size, MimeType: documents.MimePDF,
		PageCount: 1, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("doc create: %v", err)
	}
	if err := f.svc.AttachDocument(ctx, "sender-1", env.ID, docID, 1); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if _, err := f.svc.AddRecipient(ctx, "sender-1", env.ID, envelopes.RecipientInput{
		Email: "alice@example.com", Role: envelopes.RoleSigner, RoutingOrder: 1, ReminderEnabled: true,
	}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	sent, err := f.svc.Send(ctx, "sender-1", env.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	return sent
}

func TestSweepExpirationsMarksOverdueEnvelopes(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour)
	env := f.sendEnvelope(t, envelopes.ReminderNone, &expiry)

	if got := f.sw.SweepExpirations(ctx, expiry.Add(-time.Minute)); got != 0 {
		t.Fatalf("nothing due yet, expired %d", got)
	}
	if got := f.sw.SweepExpirations(ctx, expiry.Add(time.Minute)); got != 1 {
		t.Fatalf("expected 1 expiration, got %d", got)
	}

	after, err := f.svc.Repo.GetByID(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.Status != envelopes.StatusExpired {
		t.Fatalf("status must be expired, got %s", after.Status)
	}
	events, _ := f.audit.ListByEnvelope(ctx, env.ID)
	tail := events[len(events)-1]
	if tail.Type != audit.EventEnvelopeExpired {
		t.Fatalf("tail must be envelope_expired, got %s", tail.Type)
	}
	res, err := audit.VerifyChain(events)
	if err != nil || !res.OK {
		t.Fatalf("chain must verify after sweep: %v %+v", err, res)
	}
}

func TestSweepExpirationsSkipsTerminalEnvelopes(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour)
	env := f.sendEnvelope(t, envelopes.ReminderNone, &expiry)
	if _, err := f.svc.Void(ctx, "sender-1", env.ID, "cancelled"); err != nil {
		t.Fatalf("Void: %v", err)
	}

	if got := f.sw.SweepExpirations(ctx, expiry.Add(time.Minute)); got != 0 {
		t.Fatalf("voided envelope must not be swept, expired %d", got)
	}
}

func TestSweepRemindersAfterCadenceElapses(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	env := f.sendEnvelope(t, envelopes.ReminderDaily, nil)

	if got := f.sw.SweepReminders(ctx, time.Now().UTC().Add(time.Hour)); got != 0 {
		t.Fatalf("cadence not elapsed, reminded %d", got)
	}

	due := time.Now().UTC().Add(25 * time.Hour)
	if got := f.sw.SweepReminders(ctx, due); got != 1 {
		t.Fatalf("expected 1 reminder, got %d", got)
	}

	msgs := f.client.Messages()
	if len(msgs) != 1 || msgs[0].Action != string(workflows.ActionNotifyRecipient) || msgs[0].Trigger != string(workflows.TriggerReminder) {
		t.Fatalf("unexpected reminder messages: %+v", msgs)
	}
	events, _ := f.audit.ListByEnvelope(ctx, env.ID)
	tail := events[len(events)-1]
	if tail.Type != audit.EventReminderSent || tail.Metadata["cadence"] != "daily" {
		t.Fatalf("tail must be reminder_sent{cadence: daily}, got %+v", tail)
	}

	// An immediate second pass must not double-remind.
	if got := f.sw.SweepReminders(ctx, due.Add(time.Minute)); got != 0 {
		t.Fatalf("second pass within cadence reminded %d", got)
	}
}

func TestSweepRemindersSkipsEnvelopesPastExpiry(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour)
	f.sendEnvelope(t, envelopes.ReminderDaily, &expiry)

	if got := f.sw.SweepReminders(ctx, expiry.Add(30*time.Hour)); got != 0 {
		t.Fatalf("expired-due envelope must be left to the expiration sweep, reminded %d", got)
	}
}

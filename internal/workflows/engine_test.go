package workflows

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"esign-backend/internal/audit"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/queue"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/storage/object/local"
)

type failingClient struct{}

func (failingClient) Send(ctx context.Context, msg queue.Message) error {
	return errors.New("queue down")
}

func newService(t *testing.T, hooks envelopes.Hooks) (*envelopes.Service, *documents.MemoryRepo, *audit.MemoryRepo) {
	t.Helper()
	docs := documents.NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	svc := &envelopes.Service{
		Repo:       envelopes.NewMemoryRepo(),
		Docs:       docs,
		Audit:      auditRepo,
		Runner:     db.NewMemoryRunner(),
		Hooks:      hooks,
		Caps:       envelopes.Caps{MaxDocuments: 50, MaxRecipients: 200, MaxFields: 5000},
		TokenBytes: 16,
		TokenTTL:   time.Hour,
	}
	return svc, docs, auditRepo
}

func seedDraft(t *testing.T, svc *envelopes.Service, docs *documents.MemoryRepo, cadence envelopes.ReminderCadence) envelopes.Envelope {
	t.Helper()
	ctx := context.Background()
	store := local.New(t.TempDir())

	env, err := svc.Create(ctx, "sender-1", envelopes.CreateInput{Title: "Flow", ReminderCadence: cadence})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	docID := uuid.NewString()
	key := "documents/" + docID + ".pdf"
	raw := []byte("%PDF-1.4 workflow")
	size, err := store.Put(ctx, key, documents.MimePDF, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := docs.Create(ctx, documents.Document{
		ID: docID, OwnerID: "sender-1", OriginalFilename: "a.pdf",
		StorageKey: key, SizeBytes: size, MimeType: documents.MimePDF,
		PageCount: 1, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("doc create: %v", err)
	}
	if err := svc.AttachDocument(ctx, "sender-1", env.ID, docID, 1); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if _, err := svc.AddRecipient(ctx, "sender-1", env.ID, envelopes.RecipientInput{
		Email: "alice@example.com", Role: envelopes.RoleSigner, RoutingOrder: 1,
	}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	return env
}

func TestSendDispatchesOnSendActions(t *testing.T) {
	client := queue.NewMemoryClient()
	svc, docs, auditRepo := newService(t, nil)
	svc.Hooks = NewEngine(client, auditRepo, svc.Runner)

	env := seedDraft(t, svc, docs, envelopes.ReminderDaily)
	if _, err := svc.Send(context.Background(), "sender-1", env.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := client.Messages()
	want := map[string]bool{
		string(ActionNotifyRecipient):  false,
		string(ActionNotifySender):     false,
		string(ActionScheduleReminder): false,
	}
	for _, msg := range msgs {
		if msg.Trigger != string(TriggerOnSend) {
			t.Fatalf("send actions must carry on_send, got %+v", msg)
		}
		if msg.EnvelopeID != env.ID {
			t.Fatalf("wrong envelope id: %+v", msg)
		}
		want[msg.Action] = true
	}
	for action, seen := range want {
		if !seen {
			t.Fatalf("action %s not dispatched; got %+v", action, msgs)
		}
	}
}

func TestSendWithoutCadenceSkipsReminderScheduling(t *testing.T) {
	client := queue.NewMemoryClient()
	svc, docs, auditRepo := newService(t, nil)
	svc.Hooks = NewEngine(client, auditRepo, svc.Runner)

	env := seedDraft(t, svc, docs, envelopes.ReminderNone)
	if _, err := svc.Send(context.Background(), "sender-1", env.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for _, msg := range client.Messages() {
		if msg.Action == string(ActionScheduleReminder) {
			t.Fatalf("reminder must not be scheduled without cadence: %+v", msg)
		}
	}
}

func TestDispatchAppendsChainedWorkflowEvents(t *testing.T) {
	client := queue.NewMemoryClient()
	svc, docs, auditRepo := newService(t, nil)
	svc.Hooks = NewEngine(client, auditRepo, svc.Runner)
	ctx := context.Background()

	env := seedDraft(t, svc, docs, envelopes.ReminderNone)
	if _, err := svc.Send(ctx, "sender-1", env.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	events, err := auditRepo.ListByEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("ListByEnvelope: %v", err)
	}
	var workflowEvents int
	for _, ev := range events {
		if ev.Type == audit.EventWorkflowExecuted {
			workflowEvents++
			if ev.ActorType != audit.ActorSystem || ev.Metadata["action"] == "" {
				t.Fatalf("workflow event malformed: %+v", ev)
			}
		}
	}
	if workflowEvents != len(client.Messages()) {
		t.Fatalf("one audit event per dispatched action: %d vs %d", workflowEvents, len(client.Messages()))
	}
	res, err := audit.VerifyChain(events)
	if err != nil || !res.OK {
		t.Fatalf("chain must verify after workflow appends: %v %+v", err, res)
	}
}

func TestQueueFailureDoesNotBlockSend(t *testing.T) {
	svc, docs, auditRepo := newService(t, nil)
	svc.Hooks = NewEngine(failingClient{}, auditRepo, svc.Runner)
	ctx := context.Background()

	env := seedDraft(t, svc, docs, envelopes.ReminderDaily)
	sent, err := svc.Send(ctx, "sender-1", env.ID)
	if err != nil {
		t.Fatalf("Send must succeed despite queue failure: %v", err)
	}
	if sent.Status != envelopes.StatusSent {
		t.Fatalf("envelope must be sent, got %s", sent.Status)
	}
	events, _ := auditRepo.ListByEnvelope(ctx, env.ID)
	for _, ev := range events {
		if ev.Type == audit.EventWorkflowExecuted {
			t.Fatalf("failed dispatch must not record execution: %+v", ev)
		}
	}
}

func TestCompletionDispatchesOnCompleteActions(t *testing.T) {
	client := queue.NewMemoryClient()
	svc, _, auditRepo := newService(t, nil)
	engine := NewEngine(client, auditRepo, svc.Runner)
	ctx := context.Background()

	engine.EnvelopeCompleted(ctx, envelopes.Envelope{ID: "env-done"})
	msgs := client.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected notify_sender and webhook_call, got %+v", msgs)
	}
	for _, msg := range msgs {
		if msg.Trigger != string(TriggerOnComplete) {
			t.Fatalf("completion actions must carry on_complete: %+v", msg)
		}
	}
}

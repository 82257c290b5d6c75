package envelopes

import "testing"

func rec(id string, order int, status RecipientStatus, role RecipientRole) Recipient {
	return Recipient{ID: id, RoutingOrder: order, Status: status, Role: role}
}

func TestNextRecipientsSequential(t *testing.T) {
	recs := []Recipient{
		rec("a", 1, RecipientSigned, RoleSigner),
		rec("b", 2, RecipientSent, RoleSigner),
		rec("c", 3, RecipientPending, RoleSigner),
	}
	next := NextRecipients(recs)
	if len(next) != 1 || next[0].ID != "b" {
		t.Fatalf("expected b to be next, got %+v", next)
	}
	if !IsTurn(recs, "b") {
		t.Fatal("b must be allowed to act")
	}
	if IsTurn(recs, "c") {
		t.Fatal("c must be blocked by b")
	}
}

func TestNextRecipientsParallelTies(t *testing.T) {
	recs := []Recipient{
		rec("a", 1, RecipientSigned, RoleSigner),
		rec("b", 2, RecipientSent, RoleSigner),
		rec("c", 2, RecipientViewed, RoleSigner),
		rec("d", 3, RecipientPending, RoleSigner),
	}
	next := NextRecipients(recs)
	if len(next) != 2 {
		t.Fatalf("expected both order-2 recipients, got %+v", next)
	}
	if !IsTurn(recs, "b") || !IsTurn(recs, "c") {
		t.Fatal("order-2 tie must act in parallel")
	}
	if IsTurn(recs, "d") {
		t.Fatal("d must wait for the order-2 slot")
	}
}

func TestNextRecipientsSkipsDeclinedAndSigned(t *testing.T) {
	recs := []Recipient{
		rec("a", 1, RecipientDeclined, RoleSigner),
		rec("b", 2, RecipientPending, RoleSigner),
	}
	next := NextRecipients(recs)
	if len(next) != 1 || next[0].ID != "b" {
		t.Fatalf("declined recipient must not block, got %+v", next)
	}

	if got := NextRecipients([]Recipient{rec("a", 1, RecipientSigned, RoleSigner)}); got != nil {
		t.Fatalf("fully signed list has no next, got %+v", got)
	}
}

func TestAllRequiredSigned(t *testing.T) {
	recs := []Recipient{
		rec("a", 1, RecipientSigned, RoleSigner),
		rec("b", 2, RecipientSigned, RoleApprover),
		rec("c", 3, RecipientPending, RoleViewer),
	}
	if !AllRequiredSigned(recs) {
		t.Fatal("viewers must not gate completion")
	}
	recs[1].Status = RecipientSent
	if AllRequiredSigned(recs) {
		t.Fatal("unsigned approver must gate completion")
	}
}

func TestComputeProgress(t *testing.T) {
	recs := []Recipient{
		rec("a", 1, RecipientSigned, RoleSigner),
		rec("b", 2, RecipientSent, RoleSigner),
	}
	fields := []Field{
		{Required: true, Value: "signed"},
		{Required: true, Value: ""},
		{Required: false, Value: ""},
	}
	p := ComputeProgress(recs, fields)
	if p.TotalRequiredFields != 2 || p.CompletedRequiredFields != 1 {
		t.Fatalf("unexpected field counts: %+v", p)
	}
	if p.OverallPercent != 50 {
		t.Fatalf("expected 50%%, got %d", p.OverallPercent)
	}
	if p.RecipientsSigned != 1 || p.RecipientsTotal != 2 {
		t.Fatalf("unexpected recipient counts: %+v", p)
	}
}

func TestComputeProgressZeroFieldsIsComplete(t *testing.T) {
	p := ComputeProgress(nil, nil)
	if p.OverallPercent != 100 {
		t.Fatalf("0/0 must be 100%%, got %d", p.OverallPercent)
	}
}

func TestStateMachineEdges(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusSent},
		{StatusDraft, StatusVoided},
		{StatusSent, StatusInProgress},
		{StatusSent, StatusVoided},
		{StatusSent, StatusExpired},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusVoided},
		{StatusInProgress, StatusExpired},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s must be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to Status }{
		{StatusSent, StatusCompleted},
		{StatusDraft, StatusCompleted},
		{StatusDraft, StatusInProgress},
		{StatusCompleted, StatusVoided},
		{StatusVoided, StatusSent},
		{StatusExpired, StatusInProgress},
		{StatusSent, StatusDraft},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusVoided, StatusExpired} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

package bootstrap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"

	"esign-backend/internal/shared/config"
)

// End-to-end flows through the real router and wiring: memory repositories,
// local blob store, software signing provider, memory workflow queue.

const senderGuest = "e2e-sender"

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := Build(config.Config{
		Env:             "dev",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		SigningProvider: "software",

		MaxDocumentsPerEnvelope: 50,
		MaxRecipients:           200,
		MaxFields:               5000,

		AccessTokenBytes: 16,
		AccessTokenTTL:   time.Hour,

		SignRetryAttempts: 3,
		SignRetryBase:     time.Millisecond,
		SignRetryFactor:   2,
		SignRetryJitter:   0.25,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return app
}

func doJSON(t *testing.T, app *App, method, path string, body any, asSender bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if asSender {
		req.Header.Set("X-Guest-Id", senderGuest)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error response %q: %v", rec.Body.String(), err)
	}
	return out.Error.Code
}

func pdfBytes(t *testing.T, label string) []byte {
	t.Helper()
	doc := gofpdf.New("P", "pt", "A4", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Cell(0, 14, label)
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("render test pdf: %v", err)
	}
	return buf.Bytes()
}

func uploadPDF(t *testing.T, app *App, label string) (string, []byte) {
	t.Helper()
	raw := pdfBytes(t, label)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "contract.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(raw); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Guest-Id", senderGuest)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body %s", rec.Code, rec.Body.String())
	}
	resp := decodeMap(t, rec)
	docID, _ := resp["documentId"].(string)
	if docID == "" {
		t.Fatalf("upload response missing documentId: %v", resp)
	}
	return docID, raw
}

type signerSpec struct {
	email string
	order int
}

type envelopeSetup struct {
	envelopeID string
	docID      string
	docBytes   []byte
	recipients map[string]string // email -> recipientID
	fields     map[string]string // recipientID -> fieldID
}

func buildEnvelope(t *testing.T, app *App, docLabel string, signers []signerSpec) envelopeSetup {
	t.Helper()
	docID, raw := uploadPDF(t, app, docLabel)

	rec := doJSON(t, app, http.MethodPost, "/api/v1/envelopes", map[string]any{
		"title": "Q3 services agreement",
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create envelope status = %d body %s", rec.Code, rec.Body.String())
	}
	envelopeID := decodeMap(t, rec)["envelopeId"].(string)

	rec = doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+envelopeID+"/documents", map[string]any{
		"documentId": docID,
	}, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("attach document status = %d body %s", rec.Code, rec.Body.String())
	}

	setup := envelopeSetup{
		envelopeID: envelopeID,
		docID:      docID,
		docBytes:   raw,
		recipients: make(map[string]string),
		fields:     make(map[string]string),
	}
	for _, s := range signers {
		rec = doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+envelopeID+"/recipients", map[string]any{
			"email":        s.email,
			"name":         s.email,
			"role":         "signer",
			"routingOrder": s.order,
		}, true)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add recipient %s status = %d body %s", s.email, rec.Code, rec.Body.String())
		}
		recipientID := decodeMap(t, rec)["recipientId"].(string)
		setup.recipients[s.email] = recipientID

		rec = doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+envelopeID+"/fields", map[string]any{
			"documentId":  docID,
			"recipientId": recipientID,
			"type":        "signature",
			"page":        1,
			"x":           0.1,
			"y":           0.6,
			"width":       0.25,
			"height":      0.05,
		}, true)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add field for %s status = %d body %s", s.email, rec.Code, rec.Body.String())
		}
		setup.fields[recipientID] = decodeMap(t, rec)["fieldId"].(string)
	}
	return setup
}

func sendEnvelope(t *testing.T, app *App, envelopeID string) {
	t.Helper()
	rec := doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+envelopeID+"/send", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d body %s", rec.Code, rec.Body.String())
	}
}

func tokenFor(t *testing.T, app *App, recipientID string) string {
	t.Helper()
	rec, err := app.EnvelopesRepo.GetRecipient(context.Background(), recipientID)
	if err != nil {
		t.Fatalf("GetRecipient: %v", err)
	}
	if rec.AccessToken == "" {
		t.Fatalf("recipient %s has no access token", recipientID)
	}
	return rec.AccessToken
}

// signAs posts to the public signing route without any sender identity.
func signAs(t *testing.T, app *App, s envelopeSetup, recipientID, value string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, app, http.MethodPost, "/api/v1/sign/"+s.envelopeID, map[string]any{
		"accessToken": tokenFor(t, app, recipientID),
		"fieldValues": map[string]string{s.fields[recipientID]: value},
	}, false)
}

func envelopeStatus(t *testing.T, app *App, envelopeID string) string {
	t.Helper()
	rec := doJSON(t, app, http.MethodGet, "/api/v1/envelopes/"+envelopeID, nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("get envelope status = %d body %s", rec.Code, rec.Body.String())
	}
	return decodeMap(t, rec)["status"].(string)
}

func auditEvents(t *testing.T, app *App, envelopeID string) []map[string]any {
	t.Helper()
	rec := doJSON(t, app, http.MethodGet, "/api/v1/envelopes/"+envelopeID+"/audit", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d body %s", rec.Code, rec.Body.String())
	}
	var events []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode audit trail: %v", err)
	}
	return events
}

// lifecycleEvents strips the workflow dispatch records so tests can assert the
// exact lifecycle ordering regardless of how many notifications fired.
func lifecycleEvents(t *testing.T, app *App, envelopeID string) []string {
	t.Helper()
	var types []string
	for _, ev := range auditEvents(t, app, envelopeID) {
		typ, _ := ev["type"].(string)
		if typ == "workflow_executed" {
			continue
		}
		types = append(types, typ)
	}
	return types
}

func TestSingleSignerFlowEndToEnd(t *testing.T) {
	app := newTestApp(t)
	s := buildEnvelope(t, app, "master services agreement", []signerSpec{{email: "alice@example.com", order: 1}})
	sendEnvelope(t, app, s.envelopeID)

	if got := envelopeStatus(t, app, s.envelopeID); got != "sent" {
		t.Fatalf("status after send = %q, want sent", got)
	}

	sum := sha256.Sum256(s.docBytes)
	wantHash := hex.EncodeToString(sum[:])

	rec := signAs(t, app, s, s.recipients["alice@example.com"], "Alice Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("sign status = %d body %s", rec.Code, rec.Body.String())
	}
	out := decodeMap(t, rec)
	if out["completed"] != true {
		t.Fatalf("sole signer should complete the envelope: %v", out)
	}
	hashes := out["docHashes"].([]any)
	if len(hashes) != 1 {
		t.Fatalf("docHashes len = %d, want 1", len(hashes))
	}
	first := hashes[0].(map[string]any)
	if first["sha256"] != wantHash {
		t.Fatalf("signed hash = %v, want %s", first["sha256"], wantHash)
	}

	if got := envelopeStatus(t, app, s.envelopeID); got != "completed" {
		t.Fatalf("status after sign = %q, want completed", got)
	}

	want := []string{
		"envelope_created",
		"document_added",
		"recipient_added",
		"field_added",
		"envelope_sent",
		"recipient_signed",
		"envelope_completed",
	}
	got := lifecycleEvents(t, app, s.envelopeID)
	if len(got) != len(want) {
		t.Fatalf("lifecycle events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lifecycle event[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	rec = doJSON(t, app, http.MethodGet, "/api/v1/envelopes/"+s.envelopeID+"/audit/verify", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d body %s", rec.Code, rec.Body.String())
	}
	if decodeMap(t, rec)["ok"] != true {
		t.Fatalf("audit chain should verify: %s", rec.Body.String())
	}

	rec = doJSON(t, app, http.MethodGet, "/api/v1/envelopes/"+s.envelopeID+"/certificate", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("certificate status = %d body %s", rec.Code, rec.Body.String())
	}
	cert := decodeMap(t, rec)
	data := cert["data"].(map[string]any)
	if data["certificateVersion"] != "1.1" {
		t.Fatalf("certificateVersion = %v", data["certificateVersion"])
	}
	docs := data["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("certificate documents len = %d", len(docs))
	}
	if doc := docs[0].(map[string]any); doc["sha256"] != wantHash {
		t.Fatalf("certificate sha256 = %v, want %s", doc["sha256"], wantHash)
	}
}

func TestSequentialRoutingBlocksLaterSigners(t *testing.T) {
	app := newTestApp(t)
	s := buildEnvelope(t, app, "two-party agreement", []signerSpec{
		{email: "alice@example.com", order: 1},
		{email: "bob@example.com", order: 2},
	})
	sendEnvelope(t, app, s.envelopeID)

	rec := signAs(t, app, s, s.recipients["bob@example.com"], "Bob Example")
	if rec.Code != http.StatusConflict {
		t.Fatalf("out-of-turn sign status = %d body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "out_of_turn" {
		t.Fatalf("error code = %q, want out_of_turn", code)
	}

	rec = signAs(t, app, s, s.recipients["alice@example.com"], "Alice Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("first signer status = %d body %s", rec.Code, rec.Body.String())
	}
	if out := decodeMap(t, rec); out["completed"] != false {
		t.Fatalf("envelope should not complete after first of two signers: %v", out)
	}
	if got := envelopeStatus(t, app, s.envelopeID); got != "in_progress" {
		t.Fatalf("status between signers = %q, want in_progress", got)
	}

	rec = signAs(t, app, s, s.recipients["bob@example.com"], "Bob Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("second signer status = %d body %s", rec.Code, rec.Body.String())
	}
	if out := decodeMap(t, rec); out["completed"] != true {
		t.Fatalf("envelope should complete after last signer: %v", out)
	}
}

func TestParallelRoutingAllowsAnyOrder(t *testing.T) {
	app := newTestApp(t)
	s := buildEnvelope(t, app, "joint release", []signerSpec{
		{email: "alice@example.com", order: 1},
		{email: "bob@example.com", order: 1},
	})
	sendEnvelope(t, app, s.envelopeID)

	rec := signAs(t, app, s, s.recipients["bob@example.com"], "Bob Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("parallel signer status = %d body %s", rec.Code, rec.Body.String())
	}
	if out := decodeMap(t, rec); out["completed"] != false {
		t.Fatalf("one of two parallel signers should not complete: %v", out)
	}

	rec = signAs(t, app, s, s.recipients["alice@example.com"], "Alice Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("second parallel signer status = %d body %s", rec.Code, rec.Body.String())
	}
	if out := decodeMap(t, rec); out["completed"] != true {
		t.Fatalf("envelope should complete once both parallel signers signed: %v", out)
	}
}

func TestMutationAfterSendIsRejected(t *testing.T) {
	app := newTestApp(t)
	s := buildEnvelope(t, app, "frozen layout", []signerSpec{{email: "alice@example.com", order: 1}})
	sendEnvelope(t, app, s.envelopeID)

	rec := doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+s.envelopeID+"/recipients", map[string]any{
		"email": "late@example.com",
	}, true)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_state" {
		t.Fatalf("add recipient after send = %d %s", rec.Code, rec.Body.String())
	}

	extraDoc, _ := uploadPDF(t, app, "late rider")
	rec = doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+s.envelopeID+"/documents", map[string]any{
		"documentId": extraDoc,
	}, true)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_state" {
		t.Fatalf("attach document after send = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+s.envelopeID+"/fields", map[string]any{
		"documentId":  s.docID,
		"recipientId": s.recipients["alice@example.com"],
		"type":        "initial",
		"page":        1,
	}, true)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_state" {
		t.Fatalf("add field after send = %d %s", rec.Code, rec.Body.String())
	}
}

func TestVoidStopsSigning(t *testing.T) {
	app := newTestApp(t)
	s := buildEnvelope(t, app, "duplicate order", []signerSpec{{email: "alice@example.com", order: 1}})
	sendEnvelope(t, app, s.envelopeID)

	rec := doJSON(t, app, http.MethodPost, "/api/v1/envelopes/"+s.envelopeID+"/void", map[string]any{
		"reason": "duplicated",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("void status = %d body %s", rec.Code, rec.Body.String())
	}
	out := decodeMap(t, rec)
	if out["status"] != "voided" || out["voidReason"] != "duplicated" {
		t.Fatalf("void response = %v", out)
	}

	rec = signAs(t, app, s, s.recipients["alice@example.com"], "Alice Example")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_state" {
		t.Fatalf("sign after void = %d %s", rec.Code, rec.Body.String())
	}

	events := lifecycleEvents(t, app, s.envelopeID)
	if len(events) == 0 || events[len(events)-1] != "envelope_voided" {
		t.Fatalf("lifecycle tail = %v, want envelope_voided", events)
	}
	all := auditEvents(t, app, s.envelopeID)
	last := all[len(all)-1]
	meta, _ := last["metadata"].(map[string]any)
	if meta["reason"] != "duplicated" {
		t.Fatalf("void event metadata = %v", last["metadata"])
	}
}

func TestTamperSurfacesInIntegrityReport(t *testing.T) {
	app := newTestApp(t)
	s := buildEnvelope(t, app, "original terms", []signerSpec{
		{email: "alice@example.com", order: 1},
		{email: "bob@example.com", order: 2},
	})
	sendEnvelope(t, app, s.envelopeID)

	rec := signAs(t, app, s, s.recipients["alice@example.com"], "Alice Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("first signer status = %d body %s", rec.Code, rec.Body.String())
	}

	// Swap the stored bytes between the two signings.
	ctx := context.Background()
	key := "documents/" + s.docID + ".pdf"
	if _, err := app.Store.Put(ctx, key, "application/pdf", bytes.NewReader(pdfBytes(t, "altered terms"))); err != nil {
		t.Fatalf("tamper put: %v", err)
	}

	rec = signAs(t, app, s, s.recipients["bob@example.com"], "Bob Example")
	if rec.Code != http.StatusOK {
		t.Fatalf("second signer status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, app, http.MethodGet, "/api/v1/envelopes/"+s.envelopeID+"/integrity", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("integrity status = %d body %s", rec.Code, rec.Body.String())
	}
	report := decodeMap(t, rec)
	if report["chainOk"] != true {
		t.Fatalf("audit chain should still verify: %s", rec.Body.String())
	}
	if report["evidenceAgreement"] != false {
		t.Fatalf("evidences should disagree after mid-flight tamper: %s", rec.Body.String())
	}
	divergent, _ := report["divergentDocs"].([]any)
	found := false
	for _, id := range divergent {
		if id == s.docID {
			found = true
		}
	}
	if !found {
		t.Fatalf("divergentDocs = %v, want %s", divergent, s.docID)
	}
	// Bob signed the altered bytes, so the store still matches the latest
	// evidence until someone tampers again.
	if report["currentMatchesEvidence"] != true {
		t.Fatalf("current bytes should match the latest evidence: %s", rec.Body.String())
	}

	if _, err := app.Store.Put(ctx, key, "application/pdf", bytes.NewReader(pdfBytes(t, "altered again"))); err != nil {
		t.Fatalf("second tamper put: %v", err)
	}
	rec = doJSON(t, app, http.MethodGet, "/api/v1/envelopes/"+s.envelopeID+"/integrity", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("integrity status = %d body %s", rec.Code, rec.Body.String())
	}
	if report := decodeMap(t, rec); report["currentMatchesEvidence"] != false {
		t.Fatalf("post-completion tamper should surface: %s", rec.Body.String())
	}
}

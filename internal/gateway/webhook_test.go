package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := signBody("topsecret", body)
	if !verifyHMAC("topsecret", body, sig) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyHMACRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := signBody("topsecret", body)
	if verifyHMAC("topsecret", []byte(`{"ref":"refs/heads/evil"}`), sig) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifyHMACRejectsMissingPrefix(t *testing.T) {
	if verifyHMAC("topsecret", []byte("x"), "deadbeef") {
		t.Fatal("expected missing sha256= prefix to fail")
	}
}

func newWebhookGateway(t *testing.T, secret, branch string) *Gateway {
	t.Helper()
	return &Gateway{
		webhookSecret:    secret,
		configuredBranch: branch,
		scheduler:        nil,
		logger:           discardLogger(),
	}
}

func TestHandleWebhookRejectsInvalidSignature(t *testing.T) {
	g := newWebhookGateway(t, "topsecret", "main")
	body := []byte(`{"ref":"refs/heads/main"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=wrong")
	w := httptest.NewRecorder()

	g.handleWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHandleWebhookRespondsOKToPing(t *testing.T) {
	g := newWebhookGateway(t, "", "main")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-GitHub-Event", "ping")
	w := httptest.NewRecorder()

	g.handleWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHandleWebhookIgnoresOtherBranchPush(t *testing.T) {
	g := newWebhookGateway(t, "", "main")
	body := []byte(`{"ref":"refs/heads/feature-x"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()

	g.handleWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ignored")) {
		t.Errorf("expected ignored status, got %s", w.Body.String())
	}
}

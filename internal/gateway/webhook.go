package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

type githubPushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// handleWebhook implements spec §4.H: raw-body HMAC verification, GitHub
// ping/push discrimination, and dispatch into the scheduler.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	deliveryID := ulid.Make().String()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid body"})
		return
	}

	if g.webhookSecret != "" {
		if !verifyHMAC(g.webhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var payload githubPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid payload"})
		return
	}

	if eventType == "push" && payload.Ref != "" && payload.Ref != "refs/heads/"+g.configuredBranch {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	g.logger.Info("webhook delivery accepted", "deliveryId", deliveryID, "event", eventType, "repository", payload.Repository.FullName)
	if r.Header.Get("X-Manual-Trigger") == "true" {
		g.scheduler.Schedule(0)
	} else {
		g.scheduler.ScheduleImmediate()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

// verifyHMAC compares HMAC-SHA256(secret, body) against the hex digest in
// a "sha256=<hex>" header value, in constant time.
func verifyHMAC(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(want, got) == 1
}

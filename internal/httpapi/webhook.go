package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/ingest"
)

const headerWebhookSignature = "X-Webhook-Signature"

type webhookResponse struct {
	Success bool          `json:"success"`
	Result  ingest.Result `json:"result"`
}

// WebhookERPNext handles POST /api/webhooks/erpnext. The body is read whole
// because the signature covers the raw bytes. Accepted deliveries answer 200
// whether or not they changed anything.
func (s *Server) WebhookERPNext(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	r.Body.Close()
	if err != nil {
		writeError(w, r, apperr.Validation("unreadable request body", err.Error()))
		return
	}

	if err := verifySignature(body, r.Header.Get(headerWebhookSignature), s.WebhookSecret); err != nil {
		writeError(w, r, err)
		return
	}

	var req ingest.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, apperr.Validation("invalid JSON body", err.Error()))
		return
	}

	res, err := s.Ingestor.Webhook(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Result: res})
}

// verifySignature checks the hex HMAC-SHA256 of the raw body. An empty secret
// disables verification.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return apperr.Unauthorized("missing webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperr.Unauthorized("invalid webhook signature")
	}
	return nil
}

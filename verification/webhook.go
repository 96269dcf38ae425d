// Package verification authenticates webhooks delivered by the payment API.
package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/types"
)

// SignatureHeader carries the hex HMAC of the webhook body.
const SignatureHeader = "X-Signature"

// maxWebhookBytes bounds the size of a webhook body read from a request.
const maxWebhookBytes = 1 << 20

// WebhookVerifier checks HMAC-SHA-256 signatures over raw webhook bodies.
type WebhookVerifier struct {
	secret []byte
	logger logger.Logger
}

func NewWebhookVerifier(secret string, l logger.Logger) *WebhookVerifier {
	return &WebhookVerifier{
		secret: []byte(secret),
		logger: logger.OrNoop(l),
	}
}

// Sign returns the lowercase hex HMAC-SHA-256 of payload.
func (v *WebhookVerifier) Sign(payload []byte) string {
	return ComputeSignature(payload, v.secret)
}

// Verify reports whether signature matches payload. The comparison is
// constant time.
func (v *WebhookVerifier) Verify(payload []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	return VerifySignature(payload, signature, v.secret)
}

// VerifyRequest reads the body of r and checks it against the signature
// header. The body is returned so callers can decode it.
func (v *WebhookVerifier) VerifyRequest(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, types.NewValidationError("webhook request has no body")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return nil, types.NewValidationError("missing webhook signature")
	}

	if !v.Verify(body, signature) {
		v.logger.Warn("webhook signature mismatch", map[string]any{
			"remote": r.RemoteAddr,
			"size":   len(body),
		})
		return nil, types.NewValidationError("invalid webhook signature")
	}

	return body, nil
}

// ParseEvent verifies payload and decodes it as a webhook event.
func (v *WebhookVerifier) ParseEvent(payload []byte, signature string) (*types.WebhookEvent, error) {
	if !v.Verify(payload, signature) {
		return nil, types.NewValidationError("invalid webhook signature")
	}

	var event types.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		e := types.NewValidationError(fmt.Sprintf("malformed webhook payload: %v", err))
		e.Err = err
		return nil, e
	}
	return &event, nil
}

// ComputeSignature returns the lowercase hex HMAC-SHA-256 of payload.
func ComputeSignature(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the HMAC of payload in constant
// time. An optional "sha256=" prefix is accepted.
func VerifySignature(payload []byte, signature string, secret []byte) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")

	expected := ComputeSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

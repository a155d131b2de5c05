package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

const signaturePrefix = "sha256="

// SignPayload returns the hex HMAC-SHA256 of payload, as LemonSqueezy sends
// it in X-Signature.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the X-Signature header against the exact request
// body. The header may carry a "sha256=" prefix.
func VerifySignature(rawBody []byte, signature, secret string) bool {
	if secret == "" {
		slog.Error("webhook secret not configured")
		return false
	}

	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix))
	if signature == "" {
		slog.Warn("webhook signature missing")
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		slog.Warn("webhook signature is not hex", "error", err)
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		slog.Warn("webhook signature length mismatch", "provided_len", len(provided), "expected_len", len(expected))
		return false
	}

	return hmac.Equal(provided, expected)
}

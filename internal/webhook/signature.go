// Package webhook verifies inbound webhook signatures from the wallet
// provider.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks providedSignature against the HMAC-SHA256 of the
// exact raw request body. The comparison is constant-time. Returns false on
// mismatch or malformed signature; no error is ever surfaced because the
// caller only needs an authenticated/not-authenticated answer.
func VerifySignature(rawBody []byte, providedSignature string, secret []byte) bool {
	if len(secret) == 0 || providedSignature == "" {
		return false
	}

	provided, err := hex.DecodeString(providedSignature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)

	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign computes the hex-encoded HMAC-SHA256 of body, the counterpart of
// VerifySignature.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the webhook signature header the ingress checks.
const SignatureHeader = "X-Fixbot-Signature"

// ValidateSignature checks a GitHub-compatible sha256=<hex> HMAC signature
// over the raw payload. Comparison is constant time.
func ValidateSignature(payload []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	expected := signature[len("sha256="):]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	calc := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(calc))
}

// Sign computes the sha256=<hex> signature for a payload. Used by tests and
// local tooling to produce valid webhook calls.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

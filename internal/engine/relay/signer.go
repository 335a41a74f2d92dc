package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the HMAC of a forwarded body when a signing secret
// is configured.
const SignatureHeader = "X-Hookrelay-Signature"

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a SignatureHeader value against payload.
func VerifySignature(secret string, payload []byte, header string) bool {
	want := "sha256=" + Sign(secret, payload)
	return hmac.Equal([]byte(want), []byte(header))
}

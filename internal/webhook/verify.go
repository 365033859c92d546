package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// digestEqual compares two strings in constant time by hashing both sides
// first, so length differences leak nothing either.
func digestEqual(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return hmac.Equal(da[:], db[:])
}

// VerifyGitHubSignature checks the X-Hub-Signature-256 header against the
// HMAC-SHA256 of the raw body.
func VerifyGitHubSignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return digestEqual(expected, header)
}

// VerifyToken compares a shared-secret token header in constant time.
func VerifyToken(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return digestEqual(secret, token)
}

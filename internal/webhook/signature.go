package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// verifySignature checks an X-Hub-Signature-256 header against the raw
// request body. The expected form is "sha256=<hex HMAC-SHA256 of the
// body under secret>"; any malformed or mismatching header is rejected.
// Comparison is constant time.
func verifySignature(body []byte, header, secret string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	received, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}

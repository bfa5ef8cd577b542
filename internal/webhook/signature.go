package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix names the algorithm in the signature header value.
const SignaturePrefix = "sha256="

// Sign returns the header value for body: sha256=<hex hmac>.
func Sign(signingKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header in constant time.
func Verify(signingKey string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, SignaturePrefix)
	if !ok {
		return false
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	return hmac.Equal(gotMAC, mac.Sum(nil))
}

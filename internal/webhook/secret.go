package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretPrefix marks issued secrets so they are recognisable in a vault.
const SecretPrefix = "whsec_"

const (
	seedBytes    = 32
	minSecretLen = 16
	maxSecretLen = 256
)

// IssueSecret returns the credential handed to the owner. It is the keyed
// hash of seed under hashKey and is the exact key deliveries are signed
// with, so a receiver verifies with it directly. An empty seed draws 32
// random bytes.
func IssueSecret(hashKey, seed string) (string, error) {
	if seed == "" {
		b := make([]byte, seedBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		seed = base64.RawURLEncoding.EncodeToString(b)
	}
	return SecretPrefix + DeriveSigningKey(hashKey, seed), nil
}

// DeriveSigningKey is hex(HMAC-SHA256(hashKey, seed)).
func DeriveSigningKey(hashKey, seed string) string {
	mac := hmac.New(sha256.New, []byte(hashKey))
	mac.Write([]byte(seed))
	return hex.EncodeToString(mac.Sum(nil))
}

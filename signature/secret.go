package signature

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// SecretPrefix marks courier-generated signing secrets.
const SecretPrefix = "whsec_"

// GenerateSecret creates a cryptographically random signing secret.
// Format: "whsec_" + 32 bytes hex = 70 characters total.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("courier: failed to generate random secret: " + err.Error())
	}
	return SecretPrefix + hex.EncodeToString(b)
}

// LooksGenerated reports whether s has the shape produced by GenerateSecret.
func LooksGenerated(s string) bool {
	raw, ok := strings.CutPrefix(s, SecretPrefix)
	if !ok || len(raw) != 64 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

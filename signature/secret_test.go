package signature_test

import (
	"strings"
	"testing"

	"github.com/xraph/courier/signature"
)

func TestGenerateSecretFormat(t *testing.T) {
	secret := signature.GenerateSecret()

	if !strings.HasPrefix(secret, "whsec_") {
		t.Errorf("expected prefix 'whsec_', got %q", secret)
	}

	// whsec_ (6) + 64 hex chars (32 bytes) = 70 total
	if len(secret) != 70 {
		t.Errorf("expected length 70, got %d for %q", len(secret), secret)
	}
	if !signature.LooksGenerated(secret) {
		t.Errorf("LooksGenerated(%q) = false", secret)
	}
}

func TestGenerateSecretUniqueness(t *testing.T) {
	a := signature.GenerateSecret()
	b := signature.GenerateSecret()
	if a == b {
		t.Errorf("two consecutive GenerateSecret() calls returned the same value: %q", a)
	}
}

func TestLooksGeneratedRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"whsec_",
		"whsec_zz",
		"sk_" + strings.Repeat("a", 64),
		"whsec_" + strings.Repeat("g", 64),
	} {
		if signature.LooksGenerated(s) {
			t.Errorf("LooksGenerated(%q) = true", s)
		}
	}
}

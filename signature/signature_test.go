package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xraph/courier/signature"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"event":"test"}`)
	secret := "whsec_testsecret123"
	timestamp := int64(1700000000)

	got := signature.Sign(secret, timestamp, payload)

	// Compute expected HMAC-SHA256 independently.
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	expected := "t=1700000000,v1=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"invoice_id":"inv_01h2x","amount":9900}`)
	secret := "whsec_roundtripsecret"
	now := time.Unix(1700000001, 0)

	header := signature.Sign(secret, now.Unix(), payload)
	if err := signature.VerifyAt(secret, header, payload, time.Minute, now); err != nil {
		t.Errorf("VerifyAt() = %v for valid signature", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	now := time.Unix(1700000002, 0)
	header := signature.Sign("whsec_tamper", now.Unix(), []byte(`{"original":true}`))

	err := signature.VerifyAt("whsec_tamper", header, []byte(`{"original":false}`), time.Minute, now)
	if !errors.Is(err, signature.ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Unix(1700000003, 0)
	body := []byte(`{"data":"value"}`)
	header := signature.Sign("whsec_correct", now.Unix(), body)

	if err := signature.VerifyAt("whsec_wrong", header, body, time.Minute, now); !errors.Is(err, signature.ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestampEvenWithValidDigest(t *testing.T) {
	signedAt := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	header := signature.Sign("whsec_s", signedAt.Unix(), body)

	tests := []struct {
		name string
		now  time.Time
		err  error
	}{
		{"within", signedAt.Add(4 * time.Minute), nil},
		{"edge", signedAt.Add(5 * time.Minute), nil},
		{"late", signedAt.Add(5*time.Minute + time.Second), signature.ErrTimestampOutOfTolerance},
		{"early", signedAt.Add(-6 * time.Minute), signature.ErrTimestampOutOfTolerance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signature.VerifyAt("whsec_s", header, body, 5*time.Minute, tt.now)
			if !errors.Is(err, tt.err) {
				t.Errorf("VerifyAt() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestVerifyZeroToleranceStillChecksTimestamp(t *testing.T) {
	signedAt := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_zero"}`)
	header := signature.Sign("s3cret", signedAt.Unix(), body)

	if err := signature.VerifyAt("s3cret", header, body, 0, signedAt); err != nil {
		t.Fatalf("same second: %v", err)
	}
	stale := signedAt.Add(24 * time.Hour)
	if err := signature.VerifyAt("s3cret", header, body, 0, stale); !errors.Is(err, signature.ErrTimestampOutOfTolerance) {
		t.Fatalf("day-old signature at zero tolerance: got %v", err)
	}
	if err := signature.VerifyAt("s3cret", header, body, -time.Hour, signedAt.Add(time.Second)); !errors.Is(err, signature.ErrTimestampOutOfTolerance) {
		t.Fatalf("negative tolerance: got %v", err)
	}
	if signature.Valid("s3cret", signature.Sign("s3cret", time.Now().Add(-24*time.Hour).Unix(), body), body, 0) {
		t.Fatal("Valid() accepted a day-old signature at zero tolerance")
	}
}

func TestVerifyAcceptsAnyMatchingV1(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1"}`)
	oldDigest := signature.Digest("whsec_old", now.Unix(), body)
	newDigest := signature.Digest("whsec_new", now.Unix(), body)
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), oldDigest, newDigest)

	for _, secret := range []string{"whsec_old", "whsec_new"} {
		if err := signature.VerifyAt(secret, header, body, time.Minute, now); err != nil {
			t.Errorf("secret %s: %v", secret, err)
		}
	}
}

func TestParseHeaderMalformed(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	for _, h := range []string{
		"",
		"v1=" + digest,
		"t=1700000000",
		"t=abc,v1=" + digest,
		"t=1,t=2,v1=" + digest,
		"t=1700000000,v1=nothex",
		"t=1700000000,v1=abcd",
		"garbage",
	} {
		if _, err := signature.ParseHeader(h); !errors.Is(err, signature.ErrMalformedHeader) {
			t.Errorf("ParseHeader(%q) = %v, want ErrMalformedHeader", h, err)
		}
	}
}

func TestParseHeaderIgnoresUnknownSchemes(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	h, err := signature.ParseHeader("t=42, v0=legacy, v1=" + digest)
	if err != nil {
		t.Fatal(err)
	}
	if h.Timestamp != 42 || len(h.Signatures) != 1 {
		t.Errorf("unexpected header %+v", h)
	}
}

func TestSignerAndVerifierUseInjectedClock(t *testing.T) {
	fixed := time.Unix(1700000100, 0)
	clock := func() time.Time { return fixed }
	body := []byte(`{"x":1}`)

	header, ts := signature.NewSigner(clock).Sign("whsec_clock", body)
	if ts != fixed.Unix() {
		t.Fatalf("timestamp = %d", ts)
	}

	v := signature.Verifier{Tolerance: time.Minute, Now: clock}
	if err := v.Verify("whsec_clock", header, body); err != nil {
		t.Fatalf("Verify() = %v", err)
	}

	v.Now = func() time.Time { return fixed.Add(2 * time.Minute) }
	if err := v.Verify("whsec_clock", header, body); !errors.Is(err, signature.ErrTimestampOutOfTolerance) {
		t.Fatalf("expected ErrTimestampOutOfTolerance, got %v", err)
	}
}

func TestValid(t *testing.T) {
	body := []byte(`{}`)
	header := signature.Sign("whsec_v", time.Now().Unix(), body)
	if !signature.Valid("whsec_v", header, body, time.Minute) {
		t.Error("Valid() = false for a fresh signature")
	}
	if signature.Valid("whsec_other", header, body, time.Minute) {
		t.Error("Valid() = true for the wrong secret")
	}
}

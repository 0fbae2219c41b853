// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// A signature header has the form
//
//	t=<unix seconds>,v1=<hex hmac-sha256 of "<t>.<body>">
//
// Receivers may see several v1 entries while a secret is being rotated; any
// matching entry is accepted.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the request header carrying the signature.
const HeaderName = "X-Webhook-Signature"

// DefaultTolerance is the accepted clock skew between signer and verifier.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrMalformedHeader is returned when the header cannot be parsed.
	ErrMalformedHeader = errors.New("courier: malformed signature header")

	// ErrTimestampOutOfTolerance is returned when the signed timestamp is too
	// far from the verifier's clock.
	ErrTimestampOutOfTolerance = errors.New("courier: signature timestamp outside tolerance")

	// ErrSignatureMismatch is returned when no v1 entry matches the body.
	ErrSignatureMismatch = errors.New("courier: signature mismatch")
)

// Sign returns the signature header value for body signed with secret at
// timestamp.
func Sign(secret string, timestamp int64, body []byte) string {
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + Digest(secret, timestamp, body)
}

// Digest returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Digest(secret string, timestamp int64, body []byte) string {
	return hex.EncodeToString(mac(secret, timestamp, body))
}

func mac(secret string, timestamp int64, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}

// Header is a parsed signature header.
type Header struct {
	Timestamp  int64
	Signatures [][]byte
}

// ParseHeader splits a header into its timestamp and v1 digests. Unknown
// schemes are ignored so that newer signers stay readable.
func ParseHeader(header string) (Header, error) {
	var (
		h     Header
		haveT bool
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return Header{}, ErrMalformedHeader
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil || haveT {
				return Header{}, ErrMalformedHeader
			}
			h.Timestamp, haveT = ts, true
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil || len(sig) != sha256.Size {
				return Header{}, ErrMalformedHeader
			}
			h.Signatures = append(h.Signatures, sig)
		}
	}
	if !haveT || len(h.Signatures) == 0 {
		return Header{}, ErrMalformedHeader
	}
	return h, nil
}

// Verify checks header against body using the current time.
func Verify(secret, header string, body []byte, tolerance time.Duration) error {
	return VerifyAt(secret, header, body, tolerance, time.Now())
}

// VerifyAt checks header against body as of now. The timestamp is checked
// before the digest and must lie within tolerance of now; a tolerance of zero
// accepts only the current second.
func VerifyAt(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	h, err := ParseHeader(header)
	if err != nil {
		return err
	}
	skew := now.Sub(time.Unix(h.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > max(tolerance, 0) {
		return ErrTimestampOutOfTolerance
	}
	expected := mac(secret, h.Timestamp, body)
	for _, sig := range h.Signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Valid reports whether header is a current, matching signature for body.
func Valid(secret, header string, body []byte, tolerance time.Duration) bool {
	return Verify(secret, header, body, tolerance) == nil
}

// Signer signs bodies with its clock.
type Signer struct {
	Now func() time.Time
}

// NewSigner returns a Signer using now, or time.Now when now is nil.
func NewSigner(now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{Now: now}
}

// Sign signs body at the signer's current time and returns the header value
// and the timestamp used.
func (s *Signer) Sign(secret string, body []byte) (string, int64) {
	ts := s.Now().Unix()
	return Sign(secret, ts, body), ts
}

// Verifier checks signatures with a fixed tolerance and clock.
type Verifier struct {
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify checks header against body.
func (v Verifier) Verify(secret, header string, body []byte) error {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tol := v.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}
	return VerifyAt(secret, header, body, tol, now())
}

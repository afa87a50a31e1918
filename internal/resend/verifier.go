package resend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// secretPrefix is the fixed prefix Resend distributes webhook secrets with.
// The remainder is the base64-encoded signing key.
const secretPrefix = "whsec_"

var (
	// ErrMissingSignature indicates the signature or timestamp header was absent
	ErrMissingSignature = errors.New("resend: missing signature header")
	// ErrInvalidSignature indicates no v1 token matched the recomputed signature
	ErrInvalidSignature = errors.New("resend: signature mismatch")
	// ErrNoSecret indicates verification is impossible because no secret is configured
	ErrNoSecret = errors.New("resend: no webhook secret configured")
	// ErrTimestampTooOld indicates the timestamp fell outside the allowed tolerance
	ErrTimestampTooOld = errors.New("resend: timestamp outside tolerance")
)

// Verifier validates that a webhook request genuinely originated from Resend.
// Signatures follow the svix scheme: HMAC-SHA256 over "<timestamp>.<body>",
// base64-encoded, carried as space-separated "v1,<sig>" tokens.
type Verifier struct {
	key        []byte
	production bool
	tolerance  time.Duration
}

// NewVerifier creates a verifier from the whsec_-prefixed shared secret.
// An empty secret yields a verifier that rejects in production and
// warn-and-accepts in development (a misconfiguration, not a neutral default).
func NewVerifier(secret string, production bool, tolerance time.Duration) (*Verifier, error) {
	v := &Verifier{production: production, tolerance: tolerance}
	if secret == "" {
		return v, nil
	}

	raw := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("resend: decode webhook secret: %w", err)
	}
	v.key = key
	return v, nil
}

// Verify checks the signature header against the raw request body.
// A nil return means the request is authentic (or accepted under the
// development no-secret policy).
func (v *Verifier) Verify(body []byte, timestamp, signatureHeader string) error {
	if len(v.key) == 0 {
		if v.production {
			return ErrNoSecret
		}
		log.Printf("[ResendVerifier] WARNING: no webhook secret configured, accepting unverified webhook (development only)")
		return nil
	}

	if timestamp == "" || signatureHeader == "" {
		return ErrMissingSignature
	}

	if v.tolerance > 0 {
		if err := v.checkTimestamp(timestamp); err != nil {
			return err
		}
	}

	expected := v.sign(timestamp, body)

	// The header may carry several space-separated versioned signatures
	// (secret rotation); any matching v1 token is accepted.
	for _, token := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(token, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// sign computes base64(HMAC-SHA256(key, "<timestamp>.<body>"))
func (v *Verifier) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// checkTimestamp rejects events whose timestamp falls outside the tolerance
// window. Timestamps arrive as unix seconds or milliseconds.
func (v *Verifier) checkTimestamp(timestamp string) error {
	n, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("resend: parse timestamp %q: %w", timestamp, err)
	}

	var ts time.Time
	if n > 1e12 {
		ts = time.UnixMilli(n)
	} else {
		ts = time.Unix(n, 0)
	}

	if d := time.Since(ts); d > v.tolerance || d < -v.tolerance {
		return ErrTimestampTooOld
	}
	return nil
}

// Sign exposes the signature computation for tests and for local webhook replay
// tooling. The returned value is a complete "v1,<sig>" token.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	return "v1," + v.sign(timestamp, body)
}

package resend

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(t *testing.T) string {
	t.Helper()
	return "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	v, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)

	body := []byte(`{"type":"email.opened","data":{"email_id":"abc"}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	assert.NoError(t, v.Verify(body, ts, v.Sign(ts, body)))
}

func TestVerifierRejectsTamperedBody(t *testing.T) {
	v, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)

	body := []byte(`{"type":"email.opened"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := v.Sign(ts, body)

	tampered := []byte(`{"type":"email.clicked"}`)
	assert.ErrorIs(t, v.Verify(tampered, ts, sig), ErrInvalidSignature)
}

func TestVerifierRejectsWrongKey(t *testing.T) {
	v1, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)
	v2, err := NewVerifier("whsec_"+base64.StdEncoding.EncodeToString([]byte("other-key")), true, 0)
	require.NoError(t, err)

	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	assert.ErrorIs(t, v2.Verify(body, ts, v1.Sign(ts, body)), ErrInvalidSignature)
}

func TestVerifierMissingHeaders(t *testing.T) {
	v, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, v.Verify([]byte(`{}`), "", "v1,abc"), ErrMissingSignature)
	assert.ErrorIs(t, v.Verify([]byte(`{}`), "12345", ""), ErrMissingSignature)
}

func TestVerifierMultipleTokens(t *testing.T) {
	// Secret rotation: the header carries several versioned signatures and any
	// matching v1 token must be accepted.
	v, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)

	body := []byte(`{"type":"email.delivered"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	header := "v1,bm90LXRoaXMtb25l " + v.Sign(ts, body) + " v2,aWdub3JlZA=="
	assert.NoError(t, v.Verify(body, ts, header))
}

func TestVerifierIgnoresNonV1Tokens(t *testing.T) {
	v, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)

	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	// The valid signature is present but labeled v2, so it must not count
	sig := v.Sign(ts, body)
	header := "v2," + sig[3:]
	assert.ErrorIs(t, v.Verify(body, ts, header), ErrInvalidSignature)
}

func TestVerifierNoSecret(t *testing.T) {
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	prod, err := NewVerifier("", true, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, prod.Verify(body, ts, "v1,whatever"), ErrNoSecret)

	dev, err := NewVerifier("", false, 0)
	require.NoError(t, err)
	assert.NoError(t, dev.Verify(body, ts, "v1,whatever"))
}

func TestVerifierBadSecretEncoding(t *testing.T) {
	_, err := NewVerifier("whsec_%%%not-base64%%%", true, 0)
	assert.Error(t, err)
}

func TestVerifierTimestampTolerance(t *testing.T) {
	v, err := NewVerifier(testSecret(t), true, 5*time.Minute)
	require.NoError(t, err)

	body := []byte(`{}`)

	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	assert.ErrorIs(t, v.Verify(body, old, v.Sign(old, body)), ErrTimestampTooOld)

	fresh := strconv.FormatInt(time.Now().Unix(), 10)
	assert.NoError(t, v.Verify(body, fresh, v.Sign(fresh, body)))

	// Millisecond timestamps are recognized by magnitude
	freshMs := strconv.FormatInt(time.Now().UnixMilli(), 10)
	assert.NoError(t, v.Verify(body, freshMs, v.Sign(freshMs, body)))

	assert.Error(t, v.Verify(body, "not-a-number", v.Sign("not-a-number", body)))
}

func TestVerifierZeroToleranceSkipsTimestampCheck(t *testing.T) {
	v, err := NewVerifier(testSecret(t), true, 0)
	require.NoError(t, err)

	body := []byte(`{}`)
	old := strconv.FormatInt(time.Now().Add(-24*time.Hour).Unix(), 10)
	assert.NoError(t, v.Verify(body, old, v.Sign(old, body)))
}

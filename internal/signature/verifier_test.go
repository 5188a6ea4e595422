package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier([]Source{
		{Name: "partner", Secret: "s3cret", Scheme: "hmac-sha256", MaxAgeSeconds: 300},
	})
	return v.WithClock(func() time.Time { return now })
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{"tracking":"ATR_CR_KLR_01HV"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	assert.True(t, v.Verify("partner", payload, sign("s3cret", payload), ts, 300))
	// "sha256=" prefixed header form
	assert.True(t, v.Verify("partner", payload, "sha256="+sign("s3cret", payload), ts, 300))
}

func TestVerify_TamperedPayloadOrSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{"tracking":"abc"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := sign("s3cret", payload)

	// flip one byte of the payload
	tampered := []byte(`{"tracking":"abd"}`)
	assert.False(t, v.Verify("partner", tampered, sig, ts, 300))

	// flip one hex digit of the signature
	badSig := []byte(sig)
	if badSig[0] == 'a' {
		badSig[0] = 'b'
	} else {
		badSig[0] = 'a'
	}
	assert.False(t, v.Verify("partner", payload, string(badSig), ts, 300))
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{"ok":true}`)
	old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)

	// correct signature, but too old
	assert.False(t, v.Verify("partner", payload, sign("s3cret", payload), old, 300))
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{}`)
	future := strconv.FormatInt(now.Add(20*time.Minute).Unix(), 10)

	assert.False(t, v.Verify("partner", payload, sign("s3cret", payload), future, 300))
}

func TestVerify_NegativeMaxAgeDisablesFreshness(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewVerifier([]Source{
		{Name: "legacy", Secret: "s3cret", Scheme: "hmac-sha256", MaxAgeSeconds: -1},
	}).WithClock(func() time.Time { return now })
	payload := []byte(`{"tracking":"abc"}`)
	sig := sign("s3cret", payload)

	// ancient or absent timestamps pass when the source opts out of freshness
	old := strconv.FormatInt(now.Add(-24*time.Hour).Unix(), 10)
	assert.True(t, v.Verify("legacy", payload, sig, old, 0))
	assert.True(t, v.Verify("legacy", payload, sig, "", 0))

	// the signature itself is still enforced
	assert.False(t, v.Verify("legacy", []byte(`{"tracking":"abd"}`), sig, "", 0))

	// a caller-supplied negative overrides a source default the same way
	vd := newTestVerifier(now)
	assert.True(t, vd.Verify("partner", payload, sig, "", -1))
}

func TestVerify_FailClosed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := newTestVerifier(now)
	payload := []byte(`{}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := sign("s3cret", payload)

	// unknown source
	assert.False(t, v.Verify("nobody", payload, sig, ts, 300))
	// missing timestamp
	assert.False(t, v.Verify("partner", payload, sig, "", 300))
	// garbage timestamp
	assert.False(t, v.Verify("partner", payload, sig, "yesterday", 300))
	// non-hex signature
	assert.False(t, v.Verify("partner", payload, "zzzz", ts, 300))
	// empty signature
	assert.False(t, v.Verify("partner", payload, "", ts, 300))
}

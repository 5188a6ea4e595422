package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Source is an inbound webhook sender registered in configuration.
type Source struct {
	Name          string
	Secret        string
	Scheme        string // only hmac-sha256 for now
	MaxAgeSeconds int64
	APIKey        string // customer api key the source confirms on behalf of
}

// Verifier validates inbound third-party webhooks before the confirmation
// path sees them. Verification failure is the default: any internal error
// (unknown source, bad encoding, missing headers) rejects the request.
type Verifier struct {
	sources map[string]Source
	now     func() time.Time
}

func NewVerifier(sources []Source) *Verifier {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Name] = s
	}
	return &Verifier{sources: m, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Source returns the registration for name.
func (v *Verifier) Source(name string) (Source, bool) {
	s, ok := v.sources[name]
	return s, ok
}

// Verify checks timestamp freshness and the HMAC-SHA256 of the raw payload.
// The signature comparison is constant-time. A negative max age (from the
// caller or the source registration) disables the freshness check for
// senders that cannot produce a timestamp header.
func (v *Verifier) Verify(sourceName string, payload []byte, sigHeader, tsHeader string, maxAgeSeconds int64) bool {
	src, ok := v.sources[sourceName]
	if !ok || src.Secret == "" {
		return false
	}
	if maxAgeSeconds == 0 {
		maxAgeSeconds = src.MaxAgeSeconds
	}
	if maxAgeSeconds == 0 {
		maxAgeSeconds = 300
	}

	if maxAgeSeconds > 0 {
		ts, err := strconv.ParseInt(strings.TrimSpace(tsHeader), 10, 64)
		if err != nil {
			return false
		}
		age := v.now().Unix() - ts
		if age < 0 {
			age = -age // clock skew counts against freshness either way
		}
		if age > maxAgeSeconds {
			return false
		}
	}

	supplied, err := hex.DecodeString(normalizeSig(sigHeader))
	if err != nil || len(supplied) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(src.Secret))
	mac.Write(payload)
	return hmac.Equal(supplied, mac.Sum(nil))
}

// normalizeSig strips common header prefixes like "sha256=".
func normalizeSig(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '='); i >= 0 && !isHex(s[:i]) {
		return s[i+1:]
	}
	return s
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

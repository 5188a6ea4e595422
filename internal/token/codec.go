package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("token not found")
	ErrExpired  = errors.New("token expired")
)

// Payload is the cache entry behind an opaque token. Tokens are handles, not
// credentials: the entry, not the token string, carries all meaning.
type Payload struct {
	ProductID    int64      `json:"product_id"`
	CustomerID   int64      `json:"customer_id"`
	CreatedAt    time.Time  `json:"created_at"`
	TTLHours     int        `json:"ttl_hours"`
	ExpiresAt    *time.Time `json:"expires_at"` // nil when never_expires
	NeverExpires bool       `json:"never_expires"`
}

// Decoded is what Decode hands back to the redirect path.
type Decoded struct {
	Payload
	// TimeRemainingMinutes is -1 for never-expiring tokens.
	TimeRemainingMinutes int64
}

type Options struct {
	KeyPrefix      string        // default "encrypted:"
	Length         int           // token length in characters, max 18
	NeverExpireTTL time.Duration // cache TTL for never-expiring tokens, ~1 year
}

// Codec encodes (product, customer, ttl) tuples into short opaque tokens
// backed by Redis. Decode sits on the hot redirect path: one cache
// round-trip, no database.
type Codec struct {
	rds  *redis.Client
	opts Options
	now  func() time.Time
}

func NewCodec(rds *redis.Client, opts Options) *Codec {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "encrypted:"
	}
	if opts.Length <= 0 || opts.Length > 18 {
		opts.Length = 16
	}
	if opts.NeverExpireTTL <= 0 {
		opts.NeverExpireTTL = 365 * 24 * time.Hour
	}
	return &Codec{rds: rds, opts: opts, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

func (c *Codec) key(token string) string {
	return c.opts.KeyPrefix + token
}

// Encode stores the tuple under a fresh opaque token. ttlHours <= 0 means the
// token never expires.
func (c *Codec) Encode(ctx context.Context, productID, customerID int64, ttlHours int) (string, *Payload, error) {
	tok, err := newToken(c.opts.Length)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	now := c.now().UTC()
	p := Payload{
		ProductID:  productID,
		CustomerID: customerID,
		CreatedAt:  now,
		TTLHours:   ttlHours,
	}

	cacheTTL := c.opts.NeverExpireTTL
	if ttlHours > 0 {
		exp := now.Add(time.Duration(ttlHours) * time.Hour)
		p.ExpiresAt = &exp
		// entry outlives the logical expiry by an hour so Decode can still
		// distinguish Expired from NotFound
		cacheTTL = time.Duration(ttlHours)*time.Hour + time.Hour
	} else {
		p.TTLHours = 0
		p.NeverExpires = true
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal token payload: %w", err)
	}

	if err := c.rds.Set(ctx, c.key(tok), raw, cacheTTL).Err(); err != nil {
		return "", nil, fmt.Errorf("store token: %w", err)
	}
	return tok, &p, nil
}

// Decode resolves a token back to its tuple, enforcing logical expiry.
// Expired entries are deleted on read.
func (c *Codec) Decode(ctx context.Context, tok string) (*Decoded, error) {
	raw, err := c.rds.Get(ctx, c.key(tok)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal token payload: %w", err)
	}

	if p.NeverExpires || p.ExpiresAt == nil {
		return &Decoded{Payload: p, TimeRemainingMinutes: -1}, nil
	}

	now := c.now().UTC()
	if !now.Before(*p.ExpiresAt) {
		_ = c.rds.Del(ctx, c.key(tok)).Err()
		return nil, ErrExpired
	}

	remaining := int64(p.ExpiresAt.Sub(now) / time.Minute)
	return &Decoded{Payload: p, TimeRemainingMinutes: remaining}, nil
}

// Delete removes a token explicitly (administrative revocation).
func (c *Codec) Delete(ctx context.Context, tok string) error {
	return c.rds.Del(ctx, c.key(tok)).Err()
}

// newToken draws n URL-safe characters from crypto/rand. 16 base64url chars
// carry 96 bits, plenty of collision margin for the token volume at hand.
func newToken(n int) (string, error) {
	raw := make([]byte, (n*6+7)/8+1)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:n], nil
}

// Package session issues and verifies the signed, time-limited tokens that
// identify an authenticated user.
//
// A token is base64url(CBOR claims) "." base64url(MAC), where the MAC is a
// keyed BLAKE3 hash of the encoded claims under a key derived from the
// server secret. There is no revocation list: rotating the secret is the only
// way to invalidate issued tokens.
package session

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 30 * 24 * time.Hour

const keyContext = "iou session token v1"

// ErrEmptySecret is returned when no signing secret is configured.
var ErrEmptySecret = errors.New("session secret is required")

var encoding = base64.RawURLEncoding

type claims struct {
	UserID    string `cbor:"1,keyasint"`
	IssuedAt  int64  `cbor:"2,keyasint"`
	ExpiresAt int64  `cbor:"3,keyasint"`
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	key   [32]byte
	ttl   time.Duration
	nowFn func() time.Time
}

// NewIssuer derives a signing key from secret. A non-positive ttl selects
// DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	iss := &Issuer{ttl: ttl, nowFn: time.Now}
	blake3.DeriveKey(keyContext, []byte(secret), iss.key[:])
	return iss, nil
}

// WithClock overrides the time provider (used primarily in tests).
func (i *Issuer) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		i.nowFn = nowFn
	}
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a token for userID that expires after the issuer's TTL.
func (i *Issuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := i.nowFn().UTC()
	payload, err := cbor.Marshal(claims{
		UserID:    userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	body := encoding.EncodeToString(payload)
	return body + "." + encoding.EncodeToString(i.mac(body)), nil
}

// Verify returns the user id embedded in token. Any malformed, tampered or
// expired token yields ok=false.
func (i *Issuer) Verify(token string) (userID string, ok bool) {
	body, sig, found := strings.Cut(token, ".")
	if !found || body == "" || sig == "" {
		return "", false
	}
	got, err := encoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if subtle.ConstantTimeCompare(got, i.mac(body)) != 1 {
		return "", false
	}
	payload, err := encoding.DecodeString(body)
	if err != nil {
		return "", false
	}
	var c claims
	if err := cbor.Unmarshal(payload, &c); err != nil {
		return "", false
	}
	if c.UserID == "" || i.nowFn().UTC().Unix() >= c.ExpiresAt {
		return "", false
	}
	return c.UserID, true
}

func (i *Issuer) mac(body string) []byte {
	h, err := blake3.NewKeyed(i.key[:])
	if err != nil {
		// key is always 32 bytes
		panic(err)
	}
	_, _ = h.Write([]byte(body))
	return h.Sum(nil)
}

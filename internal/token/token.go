// Package token issues and verifies the signed entitlement tokens devices
// cache for offline operation.
//
// A token is base64url(JSON claims) "." base64url(HMAC-SHA256(first segment)),
// both segments without padding. The signature covers the encoded claims
// segment, not the decoded JSON.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Lifetime is how long an issued token stays valid.
const Lifetime = 7 * 24 * time.Hour

var (
	ErrMalformed        = errors.New("malformed")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrExpired          = errors.New("expired")
)

var encoding = base64.RawURLEncoding

// Claims is the payload carried by a signed entitlement token. IssuedAt and
// ExpiresAt are Unix milliseconds.
type Claims struct {
	PickupCode   string `json:"pickupCode"`
	CustomerName string `json:"customerName"`
	Plan         string `json:"plan"`
	EndDate      string `json:"endDate"`
	GraceStatus  string `json:"graceStatus"`
	IssuedAt     int64  `json:"issuedAt"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Expiry returns ExpiresAt as a time.
func (c Claims) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// KeyProvider supplies the HMAC key. Implementations may rotate keys.
type KeyProvider interface {
	SigningKey() ([]byte, error)
}

// StaticKey is a KeyProvider backed by a fixed secret.
type StaticKey []byte

func (k StaticKey) SigningKey() ([]byte, error) {
	if len(k) == 0 {
		return nil, errors.New("token: empty signing key")
	}
	return k, nil
}

// Codec signs and verifies tokens.
type Codec struct {
	keys KeyProvider
	now  func() time.Time
}

// NewCodec creates a Codec using the given key provider and the wall clock.
func NewCodec(keys KeyProvider) *Codec {
	return &Codec{keys: keys, now: time.Now}
}

// Issue stamps issuedAt and expiresAt on the claims and signs them.
func (c *Codec) Issue(claims Claims) (string, error) {
	return c.IssueAt(claims, c.now())
}

// IssueAt is Issue with an explicit clock reading.
func (c *Codec) IssueAt(claims Claims, now time.Time) (string, error) {
	claims.IssuedAt = now.UnixMilli()
	claims.ExpiresAt = now.Add(Lifetime).UnixMilli()

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: encode claims: %w", err)
	}
	payload := encoding.EncodeToString(raw)

	sig, err := c.sign(payload)
	if err != nil {
		return "", err
	}
	return payload + "." + sig, nil
}

// Verify checks a token against the wall clock.
func (c *Codec) Verify(tok string) (Claims, error) {
	return c.VerifyAt(tok, c.now())
}

// VerifyAt checks the shape, then the signature, and only then decodes the
// claims and checks expiry. The returned error is one of ErrMalformed,
// ErrInvalidSignature or ErrExpired, or a key provider failure.
func (c *Codec) VerifyAt(tok string, now time.Time) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return Claims{}, ErrMalformed
	}
	payload, sig := parts[0], parts[1]

	expected, err := c.sign(payload)
	if err != nil {
		return Claims{}, err
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Claims{}, ErrInvalidSignature
	}

	raw, err := encoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrMalformed
	}

	if claims.ExpiresAt != 0 && now.UnixMilli() > claims.ExpiresAt {
		return claims, ErrExpired
	}
	return claims, nil
}

func (c *Codec) sign(payload string) (string, error) {
	key, err := c.keys.SigningKey()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return encoding.EncodeToString(mac.Sum(nil)), nil
}

// Reason maps a verification error to its wire reason code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExpired):
		return ErrExpired.Error()
	case errors.Is(err, ErrInvalidSignature):
		return ErrInvalidSignature.Error()
	default:
		return ErrMalformed.Error()
	}
}

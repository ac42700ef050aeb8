package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"entitlement-backend/internal/model"
	"entitlement-backend/internal/store"
)

// ErrUnauthenticated is returned for any device token that does not resolve
// to a registered, unexpired device.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenStore persists device tokens keyed by device id.
type TokenStore interface {
	GetDeviceToken(ctx context.Context, deviceID string) (*model.DeviceToken, error)
	InsertDeviceToken(ctx context.Context, tok *model.DeviceToken) (bool, error)
	ReplaceDeviceToken(ctx context.Context, tok *model.DeviceToken) error
}

// DeviceTokens mints and checks the long-lived bearer tokens devices use
// for error reporting.
type DeviceTokens struct {
	store  TokenStore
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewDeviceTokens(s TokenStore, secret, issuer string, ttl time.Duration) *DeviceTokens {
	return &DeviceTokens{store: s, secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Registration is the answer to a device registration.
type Registration struct {
	Token     string
	ExpiresAt time.Time
}

// Register returns the stored token of the device, minting one only when
// none exists or the stored one has expired.
func (d *DeviceTokens) Register(ctx context.Context, deviceID string, info json.RawMessage) (*Registration, error) {
	now := d.now()

	existing, err := d.store.GetDeviceToken(ctx, deviceID)
	switch {
	case err == nil && existing.ExpiresAt.After(now):
		return &Registration{Token: existing.Token, ExpiresAt: existing.ExpiresAt}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to load device token for %s: %w", deviceID, err)
	}

	signed, expiresAt, err := d.mint(deviceID, now)
	if err != nil {
		return nil, err
	}
	tok := &model.DeviceToken{
		DeviceID:   deviceID,
		Token:      signed,
		DeviceInfo: datatypes.JSON(info),
		ExpiresAt:  expiresAt,
	}

	if existing != nil {
		if err := d.store.ReplaceDeviceToken(ctx, tok); err != nil {
			return nil, err
		}
		return &Registration{Token: signed, ExpiresAt: expiresAt}, nil
	}

	inserted, err := d.store.InsertDeviceToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent registration won; hand out its token.
		winner, err := d.store.GetDeviceToken(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload device token for %s: %w", deviceID, err)
		}
		return &Registration{Token: winner.Token, ExpiresAt: winner.ExpiresAt}, nil
	}
	return &Registration{Token: signed, ExpiresAt: expiresAt}, nil
}

func (d *DeviceTokens) mint(deviceID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(d.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    d.issuer,
		Subject:   deviceID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign device token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate resolves a bearer token to its device id. The token must carry
// a valid signature and be the one currently stored for that device.
func (d *DeviceTokens) Authenticate(ctx context.Context, bearer string) (string, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return "", ErrUnauthenticated
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(bearer, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", t.Method)
		}
		return d.secret, nil
	}, jwt.WithIssuer(d.issuer), jwt.WithTimeFunc(d.now))
	if err != nil || claims.Subject == "" {
		return "", ErrUnauthenticated
	}

	stored, err := d.store.GetDeviceToken(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to load device token for %s: %w", claims.Subject, err)
	}
	if stored.Token != bearer || !stored.ExpiresAt.After(d.now()) {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

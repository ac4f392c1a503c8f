// Package auth issues and validates the bearer tokens that protect the
// device-to-device sync endpoints. A peer activates a transport session by
// presenting the shared pairing secret and receives a short lived token for
// subsequent event posts.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour

	tokenIssuer   = "cadence-agent"
	tokenAudience = "cadence-peer"
)

var (
	errMissingPairingSecret = errors.New("pairing secret must be provided")
	errMissingDeviceID      = errors.New("device id must be provided")

	// ErrSecretMismatch indicates the presented pairing secret does not match.
	ErrSecretMismatch = errors.New("pairing secret mismatch")
)

// PairingIssuerConfig configures the pairing token issuer.
type PairingIssuerConfig struct {
	PairingSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// PairingIssuer validates pairing secrets and issues session tokens bound to
// the peer device id.
type PairingIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewPairingIssuer constructs a PairingIssuer with sane defaults.
func NewPairingIssuer(cfg PairingIssuerConfig) (*PairingIssuer, error) {
	if len(cfg.PairingSecret) == 0 {
		return nil, errMissingPairingSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PairingIssuer{secret: cfg.PairingSecret, ttl: ttl, clock: clock}, nil
}

// VerifySecret compares the presented pairing secret in constant time.
func (i *PairingIssuer) VerifySecret(presented string) error {
	if subtle.ConstantTimeCompare([]byte(presented), i.secret) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

// IssuePairingToken produces a signed JWT and its expiry (seconds) for the
// paired device.
func (i *PairingIssuer) IssuePairingToken(deviceID string) (string, int64, error) {
	if deviceID == "" {
		return "", 0, errMissingDeviceID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   deviceID,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures a pairing token is well formed and returns the peer
// device id it was issued to.
func (i *PairingIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingDeviceID
	}
	return claims.Subject, nil
}

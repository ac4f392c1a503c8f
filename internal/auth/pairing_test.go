package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPairingIssuerIssuesSessionTokens(t *testing.T) {
	issuer, err := NewPairingIssuer(PairingIssuerConfig{
		PairingSecret: []byte("shared-secret"),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssuePairingToken("watch-1")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("shared-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "watch-1" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "cadence-agent" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "cadence-peer" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestPairingIssuerValidatesIssuedTokens(t *testing.T) {
	issuer, err := NewPairingIssuer(PairingIssuerConfig{
		PairingSecret: []byte("another-secret"),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssuePairingToken("phone-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	deviceID, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if deviceID != "phone-1" {
		t.Fatalf("unexpected device id %s", deviceID)
	}

	if _, err = issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestPairingIssuerRejectsExpiredTokens(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0).UTC()
	issuer, err := NewPairingIssuer(PairingIssuerConfig{
		PairingSecret: []byte("secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssuePairingToken("watch-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	late, err := NewPairingIssuer(PairingIssuerConfig{
		PairingSecret: []byte("secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued.Add(2 * time.Minute) },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := late.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation to fail after expiry")
	}
}

func TestPairingIssuerRequiresSecret(t *testing.T) {
	if _, err := NewPairingIssuer(PairingIssuerConfig{}); err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
}

func TestVerifySecret(t *testing.T) {
	issuer, err := NewPairingIssuer(PairingIssuerConfig{PairingSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := issuer.VerifySecret("secret"); err != nil {
		t.Fatalf("expected matching secret to verify: %v", err)
	}
	if err := issuer.VerifySecret("wrong"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

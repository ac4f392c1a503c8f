package config

import (
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("device.id", "watch-1")
	v.Set("device.role", "companion")
	v.Set("pairing.secret", "s3cret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path %s", cfg.DatabasePath)
	}
	if cfg.FallbackPath != defaultFallbackPath {
		t.Fatalf("unexpected fallback path %s", cfg.FallbackPath)
	}
	if cfg.ProbeInterval != defaultProbeInterval {
		t.Fatalf("unexpected probe interval %s", cfg.ProbeInterval)
	}
	if cfg.Role != RoleCompanion {
		t.Fatalf("unexpected role %s", cfg.Role)
	}
}

func TestLoadNormalizesRoleCase(t *testing.T) {
	v := NewViper()
	v.Set("device.id", "phone-1")
	v.Set("device.role", " Primary ")
	v.Set("pairing.secret", "s3cret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Role != RolePrimary {
		t.Fatalf("unexpected role %s", cfg.Role)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viperLike)
		wantErr string
	}{
		{name: "missing-device-id", mutate: func(v *viperLike) { v.deviceID = "" }, wantErr: "device.id"},
		{name: "unknown-role", mutate: func(v *viperLike) { v.role = "observer" }, wantErr: "device.role"},
		{name: "missing-secret", mutate: func(v *viperLike) { v.secret = "" }, wantErr: "pairing.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &viperLike{deviceID: "watch-1", role: "companion", secret: "s3cret"}
			tt.mutate(base)
			v := NewViper()
			v.Set("device.id", base.deviceID)
			v.Set("device.role", base.role)
			v.Set("pairing.secret", base.secret)

			_, err := Load(v)
			if err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error to mention %s, got %v", tt.wantErr, err)
			}
		})
	}
}

type viperLike struct {
	deviceID string
	role     string
	secret   string
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "CADENCE"
	defaultHTTPAddress   = "0.0.0.0:9180"
	defaultDatabasePath  = "cadence.db"
	defaultFallbackPath  = "cadence.kv"
	defaultLogLevel      = "info"
	defaultProbeInterval = 15 * time.Second
	defaultSendTimeout   = 5 * time.Second
	defaultPairingTTL    = 12 * time.Hour
)

// DeviceRole selects which side of the paired link this agent plays.
type DeviceRole string

const (
	// RolePrimary owns program templates and long-term history.
	RolePrimary DeviceRole = "primary"
	// RoleCompanion owns live set logging during a workout.
	RoleCompanion DeviceRole = "companion"
)

// AppConfig captures runtime configuration for the sync agent.
type AppConfig struct {
	DeviceID      string
	Role          DeviceRole
	HTTPAddress   string
	PeerURL       string
	PairingSecret string
	PairingTTL    time.Duration
	DatabasePath  string
	FallbackPath  string
	LogLevel      string
	ProbeInterval time.Duration
	SendTimeout   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.fallback_path", defaultFallbackPath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("link.probe_interval", defaultProbeInterval)
	configViper.SetDefault("link.send_timeout", defaultSendTimeout)
	configViper.SetDefault("pairing.token_ttl", defaultPairingTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DeviceID:      configViper.GetString("device.id"),
		Role:          DeviceRole(strings.ToLower(strings.TrimSpace(configViper.GetString("device.role")))),
		HTTPAddress:   configViper.GetString("http.address"),
		PeerURL:       configViper.GetString("link.peer_url"),
		PairingSecret: configViper.GetString("pairing.secret"),
		PairingTTL:    configViper.GetDuration("pairing.token_ttl"),
		DatabasePath:  configViper.GetString("database.path"),
		FallbackPath:  configViper.GetString("database.fallback_path"),
		LogLevel:      configViper.GetString("log.level"),
		ProbeInterval: configViper.GetDuration("link.probe_interval"),
		SendTimeout:   configViper.GetDuration("link.send_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Role != RolePrimary && c.Role != RoleCompanion {
		return fmt.Errorf("device.role must be %q or %q", RolePrimary, RoleCompanion)
	}
	if strings.TrimSpace(c.PairingSecret) == "" {
		return fmt.Errorf("pairing.secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.FallbackPath) == "" {
		return fmt.Errorf("database.fallback_path is required")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("link.probe_interval must be positive")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("link.send_timeout must be positive")
	}
	return nil
}

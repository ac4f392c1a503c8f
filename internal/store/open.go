package store

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects the backend paths for Open.
type Config struct {
	// DatabasePath locates the structured SQLite database file.
	DatabasePath string
	// FallbackPath locates the key-value directory used when the structured
	// backend fails to initialize.
	FallbackPath string
}

// Open constructs the durable record store. It tries the structured backend
// first and falls back to the key-value backend on initialization failure,
// logging the degraded-mode warning exactly once. Both backends failing is
// fatal: the caller must surface recovery guidance rather than run without
// persistence.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	primary, primaryErr := OpenSQLite(cfg.DatabasePath, logger)
	if primaryErr == nil {
		return primary, nil
	}

	logger.Warn("structured store unavailable, running degraded on key-value fallback",
		zap.String("database_path", cfg.DatabasePath),
		zap.String("fallback_path", cfg.FallbackPath),
		zap.Error(primaryErr))

	fallback, fallbackErr := OpenKV(cfg.FallbackPath, logger)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w (sqlite: %v; key-value: %v)", ErrStoreUnavailable, primaryErr, fallbackErr)
	}
	return fallback, nil
}

package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/bulkingest"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// ValidatePostgresConfig performs basic sanity checks on Postgres-related settings.
func ValidatePostgresConfig(cfg bulkingest.DatabaseConfig) error {
	if cfg.URL != "" {
		return nil
	}
	if cfg.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("database.port must be a valid TCP port")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("database.maxConnections must be greater than 0")
	}
	return nil
}

// PostgresHealthCheck pings the database. timeout may be 0 to use a default of 5s.
func PostgresHealthCheck(ctx context.Context, db pinger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

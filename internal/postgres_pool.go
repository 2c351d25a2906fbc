package internal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
)

// PostgresConnString builds a connection url from cfg. cfg.URL wins when set.
func PostgresConnString(cfg bulkingest.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPostgresPool creates a connection pool from cfg and verifies it with a
// ping. With cfg.UseIAM set, every new connection authenticates with a fresh
// Aurora DSQL token generated from awsCfg.
func NewPostgresPool(ctx context.Context, cfg bulkingest.DatabaseConfig, awsCfg *aws.Config) (*pgxpool.Pool, error) {
	if err := ValidatePostgresConfig(cfg); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(PostgresConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = int32(cfg.MinConnections)
	}
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.Timeout

	if cfg.UseIAM {
		if awsCfg == nil {
			return nil, fmt.Errorf("database.useIAM requires aws configuration")
		}
		poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			endpoint := fmt.Sprintf("%s:%d", cc.Host, cc.Port)
			token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
			if err != nil {
				return fmt.Errorf("generate dsql auth token: %w", err)
			}
			cc.Password = token
			zap.S().Debugw("generated IAM auth token for postgres connection", "endpoint", endpoint)
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := PostgresHealthCheck(ctx, pool, cfg.Timeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

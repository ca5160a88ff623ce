// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes Connect. Zero values use the defaults below.
type ConnectOptions struct {
	// MaxConns caps the pool size.
	MaxConns int32
	// Attempts is how many pings are tried before giving up.
	Attempts uint64
	// Backoff is the first delay between pings; it doubles on each retry.
	Backoff time.Duration
}

const (
	defaultConnectAttempts = 5
	defaultConnectBackoff  = 250 * time.Millisecond
	maxConnectBackoff      = 5 * time.Second
)

// Connect opens a pgx pool and waits until the database answers a ping.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	attempts := opts.Attempts
	if attempts == 0 {
		attempts = defaultConnectAttempts
	}
	backoffBase := opts.Backoff
	if backoffBase <= 0 {
		backoffBase = defaultConnectBackoff
	}
	backoff := retry.WithMaxRetries(attempts-1,
		retry.WithCappedDuration(maxConnectBackoff, retry.NewExponential(backoffBase)))

	var attempt int
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not reachable yet",
				"attempt", attempt,
				"host", cfg.ConnConfig.Host,
				"error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Debug("database connected", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck returns a probe that reports whether the database answers
// a ping within timeout.
func ReadinessCheck(db Pinger, timeout time.Duration) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return db.Ping(ctx) == nil
	}
}

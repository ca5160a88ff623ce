// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/auth"
	authpg "github.com/pygmalion/accounts/internal/auth/postgres"
	"github.com/pygmalion/accounts/internal/config"
	"github.com/pygmalion/accounts/internal/notify"
	"github.com/pygmalion/accounts/internal/notify/queue"
	"github.com/pygmalion/accounts/internal/observability"
	"github.com/pygmalion/accounts/internal/store"
	"github.com/pygmalion/accounts/pkg/errutil"
)

// readinessTimeout bounds the database ping behind /healthz/readiness.
const readinessTimeout = 2 * time.Second

// dispatcherDrainTimeout bounds how long a command waits for queued emails.
const dispatcherDrainTimeout = 30 * time.Second

// Stores is the persistence a command works against.
type Stores struct {
	Accounts auth.AccountRepository
	Tokens   auth.RefreshTokenRepository
	// Ready reports database health. Nil means always ready.
	Ready func() bool
	// Close releases the connection. May be nil.
	Close func()
}

// SchemaMigrator is the part of *store.Migrator the CLI uses.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ObservabilityServer is the part of *observability.Server the CLI uses.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// MailWorker is the part of *queue.Worker the CLI uses.
type MailWorker interface {
	Start() error
	Shutdown()
}

// Deps contains injectable dependencies for the CLI.
// All fields with nil values will use their default implementations.
type Deps struct {
	// Getenv reads environment variables.
	// Default: os.Getenv
	Getenv func(string) string

	// StoresFactory opens the account and refresh token repositories.
	// Default: PostgreSQL via store.Connect
	StoresFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error)

	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (SchemaMigrator, error)

	// SenderFactory builds the mail transport used by request-path commands.
	// Default: defaultSender
	SenderFactory func(cfg *config.Config, logger *slog.Logger) (notify.Sender, io.Closer, error)

	// DeliverySenderFactory builds the transport the queue worker delivers with.
	// Default: SMTP when configured, otherwise the log sender
	DeliverySenderFactory func(cfg *config.Config, logger *slog.Logger) (notify.Sender, error)

	// WorkerFactory creates the mail queue worker.
	// Default: queue.NewWorker
	WorkerFactory func(cfg *config.Config, sender notify.Sender, logger *slog.Logger) (MailWorker, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer with the auth and notify metrics
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// Hasher hashes passwords.
	// Default: auth.NewArgon2idHasher
	Hasher auth.PasswordHasher

	// Clock returns the current time.
	// Default: time.Now
	Clock func() time.Time
}

// withDefaults returns a copy of d with nil fields filled in.
func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	if out.StoresFactory == nil {
		out.StoresFactory = postgresStores
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (SchemaMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.SenderFactory == nil {
		out.SenderFactory = defaultSender
	}
	if out.DeliverySenderFactory == nil {
		out.DeliverySenderFactory = deliverySender
	}
	if out.WorkerFactory == nil {
		out.WorkerFactory = func(cfg *config.Config, sender notify.Sender, logger *slog.Logger) (MailWorker, error) {
			return queue.NewWorker(cfg.QueueRedis(), sender, queue.WorkerConfig{}, logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready, auth.RegisterMetrics, notify.RegisterMetrics)
		}
	}
	if out.Hasher == nil {
		out.Hasher = auth.NewArgon2idHasher()
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return &out
}

func postgresStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{}, logger)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Accounts: authpg.NewAccountRepository(pool),
		Tokens:   authpg.NewRefreshTokenRepository(pool),
		Ready:    store.ReadinessCheck(pool, readinessTimeout),
		Close:    pool.Close,
	}, nil
}

// defaultSender picks the request-path transport: the Redis queue, SMTP, or
// the log sender when no relay is configured.
func defaultSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, io.Closer, error) {
	if cfg.Mail.Queue == config.MailRedis {
		enqueuer := queue.NewEnqueuer(cfg.QueueRedis())
		return enqueuer, enqueuer, nil
	}
	sender, err := deliverySender(cfg, logger)
	return sender, nil, err
}

func deliverySender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	if cfg.Mail.SMTP.Host == "" {
		logger.Warn("no SMTP host configured, account emails will only be logged")
		return notify.NewLogSender(logger), nil
	}
	return notify.NewSMTPSender(cfg.SMTP())
}

// app holds the wired services for one command invocation.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	stores     *Stores
	dispatcher *notify.Dispatcher
	mailCloser io.Closer

	accounts     *auth.AccountService
	registration *auth.RegistrationService
	resets       *auth.PasswordResetService
	// authenticator and rotator are nil without a JWT secret.
	authenticator *auth.Authenticator
	rotator       *auth.RefreshTokenRotator
}

// buildApp connects to the store and wires every service the CLI exposes.
func buildApp(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (*app, error) {
	stores, err := deps.StoresFactory(ctx, cfg, logger)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open stores").Wrap(err)
	}

	a := &app{cfg: cfg, logger: logger, stores: stores}
	if err := a.wire(deps); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(deps *Deps) error {
	sender, closer, err := deps.SenderFactory(a.cfg, a.logger)
	if err != nil {
		return oops.Code("MAIL_SETUP_FAILED").With("operation", "create mail sender").Wrap(err)
	}
	a.mailCloser = closer

	a.dispatcher, err = notify.NewDispatcherWithLogger(sender, notify.DispatcherConfig{}, a.logger)
	if err != nil {
		return oops.Code("MAIL_SETUP_FAILED").With("operation", "create dispatcher").Wrap(err)
	}

	authCfg := a.cfg.AuthConfig()
	authCfg.Clock = deps.Clock
	accounts, tokens := a.stores.Accounts, a.stores.Tokens

	if a.accounts, err = auth.NewAccountServiceWithLogger(accounts, tokens, deps.Hasher, authCfg, a.logger); err != nil {
		return err
	}
	if a.registration, err = auth.NewRegistrationServiceWithLogger(accounts, deps.Hasher, a.dispatcher, authCfg, a.logger); err != nil {
		return err
	}
	if a.resets, err = auth.NewPasswordResetServiceWithLogger(accounts, tokens, deps.Hasher, a.dispatcher, authCfg, a.logger); err != nil {
		return err
	}

	if a.cfg.JWT.Secret == "" {
		return nil
	}
	issuer, err := auth.NewJWTIssuer([]byte(a.cfg.JWT.Secret), a.cfg.JWT.Issuer, a.cfg.JWT.AccessTTL)
	if err != nil {
		return err
	}
	issuer = issuer.WithClock(deps.Clock)
	if a.authenticator, err = auth.NewAuthenticatorWithLogger(accounts, tokens, deps.Hasher, issuer, authCfg, a.logger); err != nil {
		return err
	}
	if a.rotator, err = auth.NewRefreshTokenRotatorWithLogger(accounts, tokens, issuer, authCfg, a.logger); err != nil {
		return err
	}
	return nil
}

// requireTokens reports a missing JWT secret for commands that issue tokens.
func (a *app) requireTokens() error {
	return a.cfg.RequireJWTSecret()
}

// Close drains pending emails and releases the store.
func (a *app) Close() {
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
		if err := a.dispatcher.Close(ctx); err != nil {
			errutil.LogWarn(a.logger, "pending emails were not delivered", err)
		}
		cancel()
	}
	if a.mailCloser != nil {
		if err := a.mailCloser.Close(); err != nil {
			errutil.LogWarn(a.logger, "failed to close mail transport", err)
		}
	}
	if a.stores.Close != nil {
		a.stores.Close()
	}
}

// Compile-time check that the dispatcher can back the auth services.
var _ auth.Notifier = (*notify.Dispatcher)(nil)

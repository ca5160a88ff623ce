// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the observability server's graceful stop.
const shutdownTimeout = 5 * time.Second

// newWorkerCmd creates the worker subcommand.
func newWorkerCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued account emails",
		Long: `Drain the Redis mail queue into SMTP until interrupted.
Commands running with mail.queue=redis enqueue emails for this worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, deps)
		},
	}
}

func runWorker(cmd *cobra.Command, deps *Deps) error {
	cfg, logger, err := loadRuntime(cmd, deps)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("field", "redis.addr").Errorf("redis address is required for the worker")
	}

	sender, err := deps.DeliverySenderFactory(cfg, logger)
	if err != nil {
		return oops.Code("MAIL_SETUP_FAILED").With("operation", "create delivery sender").Wrap(err)
	}
	worker, err := deps.WorkerFactory(cfg, sender, logger)
	if err != nil {
		return oops.Code("MAIL_SETUP_FAILED").With("operation", "create worker").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := worker.Start(); err != nil {
		return oops.Code("WORKER_START_FAILED").With("redis_addr", cfg.Redis.Addr).Wrap(err)
	}
	var running atomic.Bool
	running.Store(true)

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, running.Load)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			worker.Shutdown()
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	cmd.Println("Mail worker started")
	logger.Info("mail worker ready", "redis_addr", cfg.Redis.Addr)

	<-ctx.Done()
	logger.Info("shutting down mail worker")

	running.Store(false)
	worker.Shutdown()

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a server reports a failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

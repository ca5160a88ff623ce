// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/notify"
	"github.com/pygmalion/accounts/pkg/errutil"
)

// WorkerConfig tunes the asynq server.
type WorkerConfig struct {
	Queue       string
	Concurrency int
}

// Worker drains the mail queue into a Sender.
type Worker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	sender notify.Sender
	logger *slog.Logger
}

// NewWorker creates the asynq server and registers the email handler.
// Call Run to start processing.
func NewWorker(redis RedisConfig, sender notify.Sender, cfg WorkerConfig, logger *slog.Logger) (*Worker, error) {
	switch {
	case sender == nil:
		return nil, oops.Errorf("sender is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	srv := asynq.NewServer(redis.ClientOpt(), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      &slogAdapter{logger: logger.With("component", "asynq")},
		LogLevel:    asynq.InfoLevel,
	})
	w := &Worker{srv: srv, mux: asynq.NewServeMux(), sender: sender, logger: logger}
	w.mux.HandleFunc(TypeSendEmail, w.HandleSendEmail)
	return w, nil
}

// HandleSendEmail delivers one queued message. Malformed payloads are not
// retried; delivery errors are, according to the task's retry budget.
func (w *Worker) HandleSendEmail(ctx context.Context, t *asynq.Task) error {
	var msg notify.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		err = oops.Code("QUEUE_DECODE_FAILED").Wrap(fmt.Errorf("%w: %w", asynq.SkipRetry, err))
		errutil.LogError(w.logger, "dropping malformed email task", err)
		return err
	}
	if err := msg.Validate(); err != nil {
		errutil.LogError(w.logger, "dropping invalid email task", err)
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	if err := w.sender.Send(ctx, msg); err != nil {
		return oops.Code("QUEUE_DELIVERY_FAILED").With("to", msg.To).Wrap(err)
	}
	w.logger.Info("queued email delivered", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Run processes tasks until Shutdown is called.
func (w *Worker) Run() error {
	if err := w.srv.Run(w.mux); err != nil {
		return oops.Code("QUEUE_WORKER_FAILED").Wrap(err)
	}
	return nil
}

// Start processes tasks in the background.
func (w *Worker) Start() error {
	if err := w.srv.Start(w.mux); err != nil {
		return oops.Code("QUEUE_WORKER_FAILED").Wrap(err)
	}
	return nil
}

// Shutdown waits for active tasks and stops the worker.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// slogAdapter implements asynq.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

func (a *slogAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

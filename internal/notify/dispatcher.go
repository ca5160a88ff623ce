// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/pygmalion/accounts/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultSendTimeout    = 30 * time.Second
)

// NoRetries as DispatcherConfig.MaxRetries sends each message once.
const NoRetries = -1

// DispatcherConfig controls retry and timeouts. Zero values use the defaults.
type DispatcherConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// means DefaultMaxRetries; any negative value, such as NoRetries, means none.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// SendTimeout bounds one delivery, all attempts included.
	SendTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

func (c DispatcherConfig) retries() uint64 {
	if c.MaxRetries < 0 {
		return 0
	}
	return uint64(c.MaxRetries)
}

// Dispatcher sends messages in the background. Notify never blocks on
// delivery and never reports failure to the caller.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with a discarding logger.
func NewDispatcher(sender Sender, cfg DispatcherConfig) (*Dispatcher, error) {
	return NewDispatcherWithLogger(sender, cfg, slog.New(slog.DiscardHandler))
}

// NewDispatcherWithLogger creates a Dispatcher that logs delivery failures.
func NewDispatcherWithLogger(sender Sender, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	switch {
	case sender == nil:
		return nil, oops.Errorf("sender is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender: sender,
		cfg:    cfg.withDefaults(),
		logger: logger,
		base:   base,
		cancel: cancel,
	}, nil
}

// Notify queues msg for delivery. The caller's context only contributes
// values; cancelling it does not abort the delivery.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	if err := msg.Validate(); err != nil {
		Notifications.WithLabelValues(ResultInvalid).Inc()
		errutil.LogError(d.logger, "notification rejected", err)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		Notifications.WithLabelValues(ResultDropped).Inc()
		d.logger.WarnContext(ctx, "notification dropped after shutdown", "to", msg.To, "subject", msg.Subject)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.deliver(msg)
}

func (d *Dispatcher) deliver(msg Message) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.base, d.cfg.SendTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(d.cfg.retries(),
		retry.WithCappedDuration(d.cfg.MaxBackoff, retry.NewExponential(d.cfg.InitialBackoff)))

	var attempts int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		NotificationAttempts.Inc()
		if err := d.sender.Send(ctx, msg); err != nil {
			d.logger.Debug("notification attempt failed", "to", msg.To, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		Notifications.WithLabelValues(ResultFailed).Inc()
		errutil.LogError(d.logger, "notification delivery failed",
			oops.Code("NOTIFY_SEND_FAILED").
				With("to", msg.To).
				With("subject", msg.Subject).
				With("attempts", attempts).
				Wrap(err))
		return
	}

	Notifications.WithLabelValues(ResultSent).Inc()
	d.logger.Debug("notification delivered", "to", msg.To, "subject", msg.Subject, "attempts", attempts)
}

// Close stops accepting messages and waits for in-flight deliveries.
// If ctx ends first, pending retries are aborted and Close returns an error
// once every delivery goroutine has exited.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return oops.Code("NOTIFY_CLOSE_TIMEOUT").
			With("operation", "drain notifications").
			Wrap(ctx.Err())
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package queue moves account emails through Redis with asynq.
//
// The Enqueuer is a notify.Sender: plugged into a notify.Dispatcher it makes
// the request path independent of SMTP availability. A Worker drains the
// queue into another Sender, normally SMTP.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/notify"
)

// TypeSendEmail is the asynq task type for one outbound email.
const TypeSendEmail = "email:send"

// Defaults for enqueued tasks.
const (
	DefaultQueue       = "mail"
	DefaultMaxRetry    = 10
	DefaultTaskTimeout = time.Minute
)

// RedisConfig locates the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClientOpt converts the config for asynq.
func (c RedisConfig) ClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// NewSendEmailTask builds the task carrying msg.
func NewSendEmailTask(msg notify.Message, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, oops.Code("QUEUE_ENCODE_FAILED").With("to", msg.To).Wrap(err)
	}
	return asynq.NewTask(TypeSendEmail, payload, opts...), nil
}

// taskClient is the part of *asynq.Client the Enqueuer uses.
type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Enqueuer implements notify.Sender by enqueuing messages.
type Enqueuer struct {
	client   taskClient
	queue    string
	maxRetry int
	timeout  time.Duration
}

// EnqueuerOption customizes an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithQueue sets the queue name.
func WithQueue(name string) EnqueuerOption {
	return func(e *Enqueuer) { e.queue = name }
}

// WithMaxRetry sets how often the worker retries a failed delivery.
func WithMaxRetry(n int) EnqueuerOption {
	return func(e *Enqueuer) { e.maxRetry = n }
}

// NewEnqueuer creates an Enqueuer connected to Redis.
func NewEnqueuer(redis RedisConfig, opts ...EnqueuerOption) *Enqueuer {
	return newEnqueuer(asynq.NewClient(redis.ClientOpt()), opts...)
}

func newEnqueuer(client taskClient, opts ...EnqueuerOption) *Enqueuer {
	e := &Enqueuer{
		client:   client,
		queue:    DefaultQueue,
		maxRetry: DefaultMaxRetry,
		timeout:  DefaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send enqueues msg. Delivery happens later in a Worker.
func (e *Enqueuer) Send(ctx context.Context, msg notify.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	task, err := NewSendEmailTask(msg)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queue),
		asynq.MaxRetry(e.maxRetry),
		asynq.Timeout(e.timeout),
	); err != nil {
		return oops.Code("QUEUE_ENQUEUE_FAILED").
			With("queue", e.queue).
			With("to", msg.To).
			Wrap(err)
	}
	return nil
}

// Close releases the Redis connection.
func (e *Enqueuer) Close() error {
	if err := e.client.Close(); err != nil {
		return oops.Code("QUEUE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

var _ notify.Sender = (*Enqueuer)(nil)

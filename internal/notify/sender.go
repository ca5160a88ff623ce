// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package notify

import (
	"context"
	"log/slog"
)

// Sender delivers a single message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogSender writes messages to the log instead of delivering them.
// It is meant for development, where the logged body carries the token links.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not delivered (log sender)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.HTMLBody)
	return nil
}

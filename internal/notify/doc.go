// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package notify delivers account emails.
//
// A Dispatcher accepts messages without blocking the caller and hands each
// one to a Sender on its own goroutine, retrying transient failures with
// exponential backoff. Delivery failures are logged and counted, never
// returned. Senders deliver over SMTP, write to the log, or enqueue into
// Redis (see package queue).
package notify

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package notify

import "github.com/prometheus/client_golang/prometheus"

// Result labels for Notifications.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultInvalid = "invalid"
	ResultDropped = "dropped"
)

// Notifications counts dispatched messages by final outcome.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accounts_notifications_total",
		Help: "Total number of notifications by outcome",
	},
	[]string{"result"},
)

// NotificationAttempts counts individual send attempts, retries included.
var NotificationAttempts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "accounts_notification_attempts_total",
		Help: "Total number of notification send attempts",
	},
)

// RegisterMetrics registers notify metrics with reg. Panics on conflict.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Notifications)
	reg.MustRegister(NotificationAttempts)
}

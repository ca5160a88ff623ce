// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package notify

import (
	"github.com/samber/oops"
)

// Message is a single outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// Validate checks that the message can be delivered.
func (m Message) Validate() error {
	if m.To == "" {
		return oops.Code("NOTIFY_INVALID_MESSAGE").Errorf("recipient cannot be empty")
	}
	if m.Subject == "" {
		return oops.Code("NOTIFY_INVALID_MESSAGE").With("to", m.To).Errorf("subject cannot be empty")
	}
	return nil
}

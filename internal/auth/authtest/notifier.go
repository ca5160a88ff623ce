// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package authtest

import (
	"context"
	"regexp"
	"sync"

	"github.com/pygmalion/accounts/internal/auth"
	"github.com/pygmalion/accounts/internal/notify"
)

var tokenPattern = regexp.MustCompile(`[0-9a-f]{80}`)

// Notifier records every message it is asked to deliver.
type Notifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Notify implements auth.Notifier.
func (n *Notifier) Notify(_ context.Context, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

// Messages returns a copy of everything recorded so far.
func (n *Notifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.messages...)
}

// Last returns the most recent message and whether there was one.
func (n *Notifier) Last() (notify.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return notify.Message{}, false
	}
	return n.messages[len(n.messages)-1], true
}

// LastToken extracts the opaque token from the most recent message.
// Returns "" if there is none.
func (n *Notifier) LastToken() string {
	msg, ok := n.Last()
	if !ok {
		return ""
	}
	return tokenPattern.FindString(msg.HTMLBody)
}

var _ auth.Notifier = (*Notifier)(nil)

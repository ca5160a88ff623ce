// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package authtest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pygmalion/accounts/internal/auth"
)

const fastPrefix = "$fast$"

// Hasher is a cheap unsalted PasswordHasher for tests that hash many
// passwords concurrently. Never use it outside tests.
type Hasher struct{}

// NewHasher creates a Hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// Hash implements auth.PasswordHasher.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	sum := sha256.Sum256([]byte(password))
	return fastPrefix + hex.EncodeToString(sum[:]), nil
}

// Verify implements auth.PasswordHasher. Hashes it did not produce never match.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	if !strings.HasPrefix(hash, fastPrefix) {
		return false, nil
	}
	sum := sha256.Sum256([]byte(password))
	want := fastPrefix + hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1, nil
}

// NeedsUpgrade implements auth.PasswordHasher.
func (h *Hasher) NeedsUpgrade(string) bool {
	return false
}

var _ auth.PasswordHasher = (*Hasher)(nil)

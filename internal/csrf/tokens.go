// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/metrics"
)

// Token validation errors.
var (
	// ErrTokenMissing indicates no token exists for the session.
	ErrTokenMissing = errors.New("csrf token missing")

	// ErrTokenInvalid indicates the supplied token does not match.
	ErrTokenInvalid = errors.New("csrf token invalid")

	// ErrTokenExpired indicates the stored token has expired.
	ErrTokenExpired = errors.New("csrf token expired")
)

// Token is a synchronizer token bound to a session.
type Token struct {
	Value     string    `json:"value"`
	SessionID string    `json:"session_id"`
	Origin    string    `json:"origin,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore holds one synchronizer token per session. Issuing a token
// for a session overwrites any previous one; logout removes it.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
	length int
	ttl    time.Duration
	clk    clock.Clock
}

// NewTokenStore creates a token store. length is the random byte length
// before encoding (default 32); ttl is the token lifetime (default 24h).
func NewTokenStore(length int, ttl time.Duration, clk clock.Clock) *TokenStore {
	if length <= 0 {
		length = 32
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}

	return &TokenStore{
		tokens: make(map[string]*Token),
		length: length,
		ttl:    ttl,
		clk:    clk,
	}
}

// Issue generates a fresh token for the session, replacing any existing
// one. Also used for on-demand rotation.
func (s *TokenStore) Issue(sessionID, origin string) (*Token, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("issue token: empty session id")
	}

	raw := make([]byte, s.length)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := s.clk.Now()
	token := &Token{
		Value:     base64.RawURLEncoding.EncodeToString(raw),
		SessionID: sessionID,
		Origin:    origin,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.tokens[sessionID] = token
	s.mu.Unlock()

	metrics.TokensIssued.Inc()
	return token, nil
}

// Get returns the current token for the session, if any.
func (s *TokenStore) Get(sessionID string) (*Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[sessionID]
	if !ok {
		return nil, false
	}
	dup := *token
	return &dup, true
}

// Validate checks the supplied value against the session's stored token.
// Expiry is checked against the clock on every call: a token is never
// valid past its expiry regardless of store staleness.
func (s *TokenStore) Validate(sessionID, value string) error {
	s.mu.RLock()
	token, ok := s.tokens[sessionID]
	s.mu.RUnlock()

	if !ok {
		return ErrTokenMissing
	}
	if s.clk.Now().After(token.ExpiresAt) {
		return ErrTokenExpired
	}
	if subtle.ConstantTimeCompare([]byte(token.Value), []byte(value)) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

// Invalidate removes the session's token, e.g. on logout.
func (s *TokenStore) Invalidate(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, sessionID)
}

// CleanupExpired removes expired tokens. Keys are collected first and
// deleted second so iteration never races the mutation.
func (s *TokenStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	var expired []string
	for sessionID, token := range s.tokens {
		if now.After(token.ExpiresAt) {
			expired = append(expired, sessionID)
		}
	}
	for _, sessionID := range expired {
		delete(s.tokens, sessionID)
	}
	return len(expired)
}

// Len returns the number of live sessions with tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

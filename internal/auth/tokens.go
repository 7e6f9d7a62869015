// Package auth verifies bearer tokens against configured bcrypt hashes.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/wapikit/wapikit-sub000/internal/appconfig"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

// ErrInvalidToken is returned for unknown or blank tokens.
var ErrInvalidToken = errors.New("invalid token")

type tokenEntry struct {
	user schema.UserID
	hash []byte
}

// TokenStore maps bearer tokens to users. It is immutable after construction.
type TokenStore struct {
	entries []tokenEntry
	log     pslog.Logger
}

// NewTokenStore builds a store from configured entries.
func NewTokenStore(entries []appconfig.TokenEntry, logger pslog.Logger) (*TokenStore, error) {
	store := &TokenStore{log: logger}
	for _, entry := range entries {
		user := schema.UserID(entry.Name)
		if err := schema.ValidateUserID(user); err != nil {
			return nil, fmt.Errorf("token name %q: %w", entry.Name, err)
		}
		if _, err := bcrypt.Cost([]byte(entry.Hash)); err != nil {
			return nil, fmt.Errorf("token %q: %w", entry.Name, err)
		}
		store.entries = append(store.entries, tokenEntry{user: user, hash: []byte(entry.Hash)})
	}
	return store, nil
}

// Len reports how many tokens are configured.
func (s *TokenStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Authenticate returns the user owning token.
func (s *TokenStore) Authenticate(token string) (schema.UserID, error) {
	token = strings.TrimSpace(token)
	if s == nil || token == "" {
		return "", ErrInvalidToken
	}
	for _, entry := range s.entries {
		if bcrypt.CompareHashAndPassword(entry.hash, []byte(token)) == nil {
			return entry.user, nil
		}
	}
	if s.log != nil {
		s.log.Debug("auth token rejected", "candidates", len(s.entries))
	}
	return "", ErrInvalidToken
}

// HashToken returns the bcrypt hash to store for token.
func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("token is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

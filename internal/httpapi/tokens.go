package httpapi

import (
	"sync"

	"github.com/google/uuid"

	"github.com/anshul1007/vermillion/internal/api"
)

// Tokens is an in-memory bearer token store for the reference server.
// Refresh tokens are seeded from configuration; access tokens are issued
// on refresh. Each refresh rotates the refresh token.
type Tokens struct {
	mu      sync.Mutex
	access  map[string]string // access token -> user
	refresh map[string]string // refresh token -> user
	newID   func() string
}

// NewTokens creates a store that accepts the given refresh tokens.
func NewTokens(refreshToUser map[string]string) *Tokens {
	t := &Tokens{
		access:  make(map[string]string),
		refresh: make(map[string]string, len(refreshToUser)),
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for tok, user := range refreshToUser {
		t.refresh[tok] = user
	}
	return t
}

// Grant registers an access token directly.
func (t *Tokens) Grant(access, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access[access] = user
}

// Revoke invalidates an access token.
func (t *Tokens) Revoke(access string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.access, access)
}

// User returns the user an access token belongs to.
func (t *Tokens) User(access string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	user, ok := t.access[access]
	return user, ok
}

// Refresh exchanges a refresh token for a new pair.
func (t *Tokens) Refresh(refresh string) (api.TokenPair, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, ok := t.refresh[refresh]
	if !ok {
		return api.TokenPair{}, false
	}
	delete(t.refresh, refresh)

	pair := api.TokenPair{AccessToken: t.newID(), RefreshToken: t.newID()}
	t.access[pair.AccessToken] = user
	t.refresh[pair.RefreshToken] = user
	return pair, true
}

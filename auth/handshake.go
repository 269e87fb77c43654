package auth

import (
	"crypto/subtle"
	"sync"

	"github.com/google/uuid"

	"github.com/nittaya1990/spiced/request"
)

// TokenStore implements the Flight basic-auth handshake: a username and
// password are exchanged once for a bearer token that authenticates the
// rest of the session. Tokens live in memory and die with the process.
type TokenStore struct {
	username string
	password string

	mu     sync.RWMutex
	tokens map[string]request.Principal
}

// NewTokenStore accepts handshakes for the given credentials.
func NewTokenStore(username, password string) *TokenStore {
	return &TokenStore{
		username: username,
		password: password,
		tokens:   make(map[string]request.Principal),
	}
}

// Handshake validates the credentials and mints a session token.
func (s *TokenStore) Handshake(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = request.Principal{Username: username, Groups: []string{GroupRead, GroupReadWrite}}
	s.mu.Unlock()
	return token, nil
}

// Resolve looks up a previously minted token.
func (s *TokenStore) Resolve(token string) (request.Principal, error) {
	s.mu.RLock()
	principal, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return request.Principal{}, ErrInvalidCredentials
	}
	return principal, nil
}

// Revoke drops a session token.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Verifier returns a bearer-token verifier backed by this store.
func (s *TokenStore) Verifier() *BearerTokenVerifier {
	return NewBearerTokenVerifier(s.Resolve)
}

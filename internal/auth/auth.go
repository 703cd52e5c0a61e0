package auth

import (
	"crypto/subtle"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// TokenStore holds the static ingest token of every registered camera.
// A stored token is either the plain value or a bcrypt hash of it.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[int]string
}

// NewTokenStore creates a token store seeded with tokens.
func NewTokenStore(tokens map[int]string) *TokenStore {
	s := &TokenStore{tokens: make(map[int]string, len(tokens))}
	for id, tok := range tokens {
		s.tokens[id] = tok
	}
	return s
}

// Set registers or replaces the token for a camera.
func (s *TokenStore) Set(cameraID int, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[cameraID] = token
}

// Registered reports whether any token exists for the camera.
func (s *TokenStore) Registered(cameraID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[cameraID]
	return ok
}

// Verify returns true iff a token is registered for the camera and the
// provided token matches it exactly.
func (s *TokenStore) Verify(cameraID int, provided string) bool {
	s.mu.RLock()
	expected, ok := s.tokens[cameraID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	if isBcryptHash(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// HashToken creates a bcrypt hash of a token (utility function)
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ABOUTME: In-memory session store for logged-in users
// ABOUTME: Issues opaque random tokens with an absolute TTL and lazy expiry

package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrMissingToken is returned when a request carries no session token.
	ErrMissingToken = errors.New("missing session token")
	// ErrInvalidToken is returned when a token is unknown to the store.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken is returned when a token's TTL has elapsed.
	ErrExpiredToken = errors.New("session expired")
)

// entry holds one live session.
type entry struct {
	userID    int64
	expiresAt time.Time
}

// Store maps opaque tokens to user IDs. Sessions live only in memory and
// do not survive a restart.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	logger  *slog.Logger

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewStore creates a session store. Tokens expire ttl after creation
// regardless of activity.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	s := &Store{
		entries:     make(map[string]entry),
		ttl:         ttl,
		logger:      logger.With("component", "session"),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Create mints a new opaque token for the user. Each call produces an
// independent session; logging in twice yields two valid tokens.
func (s *Store) Create(userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	s.mu.Lock()
	s.entries[token] = entry{
		userID:    userID,
		expiresAt: time.Now().Add(s.ttl),
	}
	total := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug("session created", "user_id", userID, "active_sessions", total)
	return token, nil
}

// Resolve returns the user ID for a token. Expired tokens are evicted on
// sight so a second lookup reports them as invalid rather than expired.
func (s *Store) Resolve(token string) (int64, error) {
	if token == "" {
		return 0, ErrMissingToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return 0, ErrInvalidToken
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, token)
		return 0, ErrExpiredToken
	}
	return e.userID, nil
}

// Invalidate removes a token. Unknown tokens are ignored.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
}

// Count returns the number of sessions currently held, including any
// expired entries not yet swept.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	close(s.stopCleanup)
	<-s.cleanupDone
}

// cleanupLoop periodically drops expired sessions so the map does not
// grow unbounded under login churn.
func (s *Store) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) removeExpired() {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for token, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("expired sessions removed", "removed", removed, "remaining", remaining)
	}
}

// generateToken returns 32 random bytes hex-encoded.
func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

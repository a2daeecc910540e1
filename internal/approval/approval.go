// ABOUTME: In-memory registry of pending approval windows
// ABOUTME: A user opens a short window that a card tap must land inside

package approval

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNoPending is returned when a tap arrives with no open window.
	ErrNoPending = errors.New("no pending approval request")
	// ErrExpired is returned when the window closed before the tap arrived.
	ErrExpired = errors.New("approval request expired")
)

// Registry tracks at most one open approval window per user. Windows live
// only in memory; a restart clears them, which is safe because the protected
// operation simply has to be re-initiated.
type Registry struct {
	mu      sync.Mutex
	pending map[int64]time.Time
	window  time.Duration
	logger  *slog.Logger
}

// NewRegistry creates a registry whose windows stay open for the given
// duration.
func NewRegistry(window time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		pending: make(map[int64]time.Time),
		window:  window,
		logger:  logger.With("component", "approval"),
	}
}

// Open starts a new approval window for the user and returns its deadline.
// An already-open window is replaced; the latest request wins.
func (r *Registry) Open(userID int64) time.Time {
	expiresAt := time.Now().Add(r.window)

	r.mu.Lock()
	r.pending[userID] = expiresAt
	r.mu.Unlock()

	r.logger.Info("approval window opened", "user_id", userID, "expires_at", expiresAt)
	return expiresAt
}

// EnsureOpen checks that the user has a live window. Expired windows are
// evicted and reported as ErrExpired once; after that the user simply has
// no pending request.
func (r *Registry) EnsureOpen(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.pending[userID]
	if !ok {
		return ErrNoPending
	}
	if time.Now().After(expiresAt) {
		delete(r.pending, userID)
		return ErrExpired
	}
	return nil
}

// Clear closes the user's window. Clearing an absent window is a no-op.
func (r *Registry) Clear(userID int64) {
	r.mu.Lock()
	_, had := r.pending[userID]
	delete(r.pending, userID)
	r.mu.Unlock()

	if had {
		r.logger.Info("approval window cleared", "user_id", userID)
	}
}

// IsBlocked reports whether the user has a live window, evicting an expired
// one along the way.
func (r *Registry) IsBlocked(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.pending[userID]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(r.pending, userID)
		return false
	}
	return true
}

// Count returns the number of windows currently held, including any expired
// entries not yet evicted.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

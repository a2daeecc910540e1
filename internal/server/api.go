// ABOUTME: User-facing HTTP handlers: login, block, card registration, and taps
// ABOUTME: Maps component errors onto HTTP status codes

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tapgate/tapgate/internal/approval"
	"github.com/tapgate/tapgate/internal/sdm"
	"github.com/tapgate/tapgate/internal/session"
	"github.com/tapgate/tapgate/internal/store"
	"github.com/tapgate/tapgate/internal/tap"
)

// sessionCookieName is the cookie that carries the session token. The same
// token is also accepted in the Authorisation header for clients that cannot
// set cookies, such as NFC reader firmware.
const sessionCookieName = "session_token"

// dummyBcryptHash keeps login timing uniform when the username is unknown.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionToken     string `json:"session_token"`
	UserID           int64  `json:"user_id"`
	Username         string `json:"username"`
	IsNewUser        bool   `json:"is_new_user"`
	SessionExpiresIn int64  `json:"session_expires_in"`
}

type registerCardRequest struct {
	CardID string `json:"card_id"`
}

type blockResponse struct {
	Status    string    `json:"status"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	TTL       int64     `json:"ttl"` // seconds until the window closes
}

type errorResponse struct {
	Error string `json:"error"`
}

// withRequestLogging tags each request with an ID and logs its outcome.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps component sentinel errors onto HTTP status codes. Unknown
// errors surface as a generic 500 so internals do not leak to clients.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, sdm.ErrEmptyIdentifier),
		errors.Is(err, tap.ErrInvalidCounter),
		errors.Is(err, approval.ErrNoPending),
		errors.Is(err, approval.ErrExpired):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrMissingToken),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrExpiredToken):
		status = http.StatusUnauthorized
	case errors.Is(err, sdm.ErrBadSignature),
		errors.Is(err, store.ErrReplayDetected):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrUsernameExists),
		errors.Is(err, store.ErrCardOwnedByOther):
		status = http.StatusConflict
	default:
		s.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// sessionToken pulls the token from the Authorisation header or, failing
// that, the session cookie.
func sessionToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorisation")); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// requireSession resolves the calling user from the request's session token.
func (s *Server) requireSession(r *http.Request) (int64, error) {
	return s.sessions.Resolve(sessionToken(r))
}

// handleLogin authenticates a user and issues a session token. Unknown
// usernames are registered on the spot so first login doubles as signup.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username must be 3 to 64 characters"})
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 128 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "password must be 6 to 128 characters"})
		return
	}

	var isNewUser bool
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		isNewUser = true
		// Burn a bcrypt comparison anyway so signup and failed login take
		// the same time
		_ = bcrypt.CompareHashAndPassword([]byte(dummyBcryptHash), []byte(req.Password))
		user, err = s.registerUser(r, req)
		if err != nil {
			s.writeError(w, err)
			return
		}
	case err != nil:
		s.writeError(w, err)
		return
	default:
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}
	}

	token, err := s.sessions.Create(user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.config.Auth.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken:     token,
		UserID:           user.ID,
		Username:         user.Username,
		IsNewUser:        isNewUser,
		SessionExpiresIn: int64(s.config.Auth.SessionTTL.Seconds()),
	})
}

// registerUser creates an account for a first-time username.
func (s *Server) registerUser(r *http.Request, req loginRequest) (*store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	userID, err := s.store.CreateUser(r.Context(), req.Username, string(hash))
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", userID, "username", req.Username)
	return s.store.GetUser(r.Context(), userID)
}

// handleBlock opens a pending approval window for the calling user. A
// repeated block replaces the previous window.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	userID, err := s.requireSession(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	expiresAt := s.pending.Open(userID)
	writeJSON(w, http.StatusOK, blockResponse{
		Status:    "blocked",
		UserID:    userID,
		ExpiresAt: expiresAt,
		TTL:       int64(s.config.Auth.PendingWindow.Seconds()),
	})
}

// handleCardRegister explicitly binds a card to the calling user without a
// tap payload. No counter or MAC is involved, so no replay protection
// applies to this path.
func (s *Server) handleCardRegister(w http.ResponseWriter, r *http.Request) {
	userID, err := s.requireSession(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req registerCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if trimmed := strings.TrimSpace(req.CardID); len(trimmed) < 3 || len(trimmed) > 64 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "card_id must be 3 to 64 characters"})
		return
	}

	cardID, err := s.verifier.DeriveCardID(req.CardID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.store.Assign(r.Context(), userID, cardID, nil, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTap processes a card tap. The reader forwards the raw tap payload
// as query parameters.
func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	userID, err := s.requireSession(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	query := r.URL.Query()
	result, err := s.orch.HandleTap(r.Context(), tap.Request{
		UserID: userID,
		Sun:    query.Get("sun"),
		Ctr:    query.Get("ctr"),
		Mac:    query.Get("mac"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTapPreflight answers CORS preflights from browser-based readers.
func (s *Server) handleTapPreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorisation, Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// ABOUTME: Tests for the tap state machine
// ABOUTME: Exercises both tap branches against a real SQLite store

package tap

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapgate/tapgate/internal/approval"
	"github.com/tapgate/tapgate/internal/sdm"
	"github.com/tapgate/tapgate/internal/store"
)

const testSecret = "s3cret"

type fixture struct {
	orch    *Orchestrator
	store   *store.SQLiteStore
	pending *approval.Registry
	userID  int64
}

// newFixture builds an orchestrator over a real store. An empty secret
// selects the static-learned fallback.
func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	logger := slog.Default()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	userID, err := s.CreateUser(context.Background(), "alice", "h")
	require.NoError(t, err)

	pending := approval.NewRegistry(time.Minute, logger)
	verifier := sdm.NewVerifier(secret, logger)

	return &fixture{
		orch:    NewOrchestrator(verifier, s, pending, logger),
		store:   s,
		pending: pending,
		userID:  userID,
	}
}

func signTap(sun, ctr string) string {
	mh := hmac.New(sha256.New, []byte(testSecret))
	mh.Write([]byte(sun + ":" + ctr))
	return hex.EncodeToString(mh.Sum(nil))
}

func TestHandleTap_RegistersNewCard(t *testing.T) {
	f := newFixture(t, testSecret)

	result, err := f.orch.HandleTap(context.Background(), Request{
		UserID: f.userID,
		Sun:    "abc123",
		Ctr:    "1",
		Mac:    signTap("abc123", "1"),
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusCardRegistered, result.Status)
	assert.Equal(t, "ABC123", result.CardID)
	assert.True(t, result.IsNewCard)
	assert.Equal(t, int64(1), result.LastCtr)
}

func TestHandleTap_RegistrationNeedsNoPendingWindow(t *testing.T) {
	f := newFixture(t, testSecret)

	_, err := f.orch.HandleTap(context.Background(), Request{
		UserID: f.userID,
		Sun:    "abc123",
		Ctr:    "1",
		Mac:    signTap("abc123", "1"),
	})
	require.NoError(t, err)
	assert.False(t, f.pending.IsBlocked(f.userID))
}

func TestHandleTap_VerificationClearsPending(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()

	_, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "1", Mac: signTap("abc123", "1"),
	})
	require.NoError(t, err)

	f.pending.Open(f.userID)

	result, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "2", Mac: signTap("abc123", "2"),
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusPendingCleared, result.Status)
	assert.False(t, f.pending.IsBlocked(f.userID))
}

func TestHandleTap_VerificationWithoutWindowFails(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()

	_, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "1", Mac: signTap("abc123", "1"),
	})
	require.NoError(t, err)

	_, err = f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "2", Mac: signTap("abc123", "2"),
	})
	assert.ErrorIs(t, err, approval.ErrNoPending)

	// The failed verification must not have consumed the counter
	binding, err := f.store.GetCardBinding(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), binding.LastCtr)
}

func TestHandleTap_BadSignatureMutatesNothing(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()

	_, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "1", Mac: "deadbeef",
	})
	assert.ErrorIs(t, err, sdm.ErrBadSignature)

	_, err = f.store.GetCardBinding(ctx, "ABC123")
	assert.ErrorIs(t, err, store.ErrBindingNotFound)
}

func TestHandleTap_ReplayRejected(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()

	_, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "5", Mac: signTap("abc123", "5"),
	})
	require.NoError(t, err)

	f.pending.Open(f.userID)

	// Re-sending an old but correctly signed tap must fail
	_, err = f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "5", Mac: signTap("abc123", "5"),
	})
	assert.ErrorIs(t, err, store.ErrReplayDetected)

	// The window survives a rejected tap
	assert.True(t, f.pending.IsBlocked(f.userID))
}

func TestHandleTap_ConflictOnForeignCard(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()

	bob, err := f.store.CreateUser(ctx, "bob", "h")
	require.NoError(t, err)

	_, err = f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "1", Mac: signTap("abc123", "1"),
	})
	require.NoError(t, err)

	// Bob tapping Alice's card lands on the registration branch and conflicts
	_, err = f.orch.HandleTap(ctx, Request{
		UserID: bob, Sun: "abc123", Ctr: "2", Mac: signTap("abc123", "2"),
	})
	assert.ErrorIs(t, err, store.ErrCardOwnedByOther)
}

func TestHandleTap_EmptySun(t *testing.T) {
	f := newFixture(t, testSecret)

	_, err := f.orch.HandleTap(context.Background(), Request{
		UserID: f.userID, Sun: "  ", Ctr: "1", Mac: "deadbeef",
	})
	assert.ErrorIs(t, err, sdm.ErrEmptyIdentifier)
}

func TestHandleTap_InvalidCounter(t *testing.T) {
	f := newFixture(t, testSecret)

	_, err := f.orch.HandleTap(context.Background(), Request{
		UserID: f.userID, Sun: "abc123", Ctr: "seven", Mac: "deadbeef",
	})
	assert.ErrorIs(t, err, ErrInvalidCounter)
}

func TestHandleTap_StaticModeLearnsFirstMAC(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	// First tap: nothing learned, any MAC passes and gets recorded
	_, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "", Mac: "CAFEBABE",
	})
	require.NoError(t, err)

	binding, err := f.store.GetCardBinding(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", binding.StaticMAC)

	// Matching MAC passes regardless of case
	f.pending.Open(f.userID)
	result, err := f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "", Mac: "cafebabe",
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingCleared, result.Status)

	// A different MAC is rejected
	_, err = f.orch.HandleTap(ctx, Request{
		UserID: f.userID, Sun: "abc123", Ctr: "", Mac: "deadbeef",
	})
	assert.ErrorIs(t, err, sdm.ErrBadSignature)
}

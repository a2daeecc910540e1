// ABOUTME: Tap handling state machine composing verification, binding, and approval
// ABOUTME: One flow serves both verification taps and registration taps

package tap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tapgate/tapgate/internal/approval"
	"github.com/tapgate/tapgate/internal/sdm"
	"github.com/tapgate/tapgate/internal/store"
)

// ErrInvalidCounter is returned when a tap carries a counter that is not a
// decimal integer.
var ErrInvalidCounter = errors.New("invalid tap counter")

// Request carries the raw tap parameters together with the calling user,
// already resolved from the session.
type Request struct {
	UserID int64
	Sun    string
	Ctr    string
	Mac    string
}

// Orchestrator drives a card tap end to end: authenticate the payload,
// resolve which card it is, then either clear the user's pending window
// (verification tap) or create the binding (registration tap).
type Orchestrator struct {
	verifier *sdm.Verifier
	bindings store.CardBindingStore
	pending  *approval.Registry
	logger   *slog.Logger
}

// NewOrchestrator wires the tap flow.
func NewOrchestrator(verifier *sdm.Verifier, bindings store.CardBindingStore, pending *approval.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		verifier: verifier,
		bindings: bindings,
		pending:  pending,
		logger:   logger.With("component", "tap"),
	}
}

// HandleTap processes one tap. With a shared secret configured the payload
// is verified dynamically before any state is touched; without one the
// learned-MAC fallback is checked against the card's stored value. Whether
// the tap verifies a pending block or registers a card depends only on
// whether the card already belongs to the caller.
func (o *Orchestrator) HandleTap(ctx context.Context, req Request) (*store.AssignmentResult, error) {
	cardID, err := o.verifier.DeriveCardID(req.Sun)
	if err != nil {
		return nil, err
	}

	ctr, err := parseCounter(req.Ctr)
	if err != nil {
		return nil, err
	}

	binding, err := o.bindings.GetCardBinding(ctx, cardID)
	if err != nil && !errors.Is(err, store.ErrBindingNotFound) {
		return nil, err
	}

	if o.verifier.DynamicEnabled() {
		if err := o.verifier.VerifyDynamic(req.Sun, req.Ctr, req.Mac); err != nil {
			return nil, err
		}
	} else {
		storedMAC := ""
		if binding != nil {
			storedMAC = binding.StaticMAC
		}
		if err := o.verifier.VerifyStatic(storedMAC, req.Mac); err != nil {
			return nil, err
		}
	}

	if binding != nil && binding.UserID == req.UserID {
		return o.verificationTap(ctx, req, cardID, ctr)
	}
	return o.registrationTap(ctx, req, cardID, ctr)
}

// verificationTap clears the caller's pending window. The window must be
// open before the binding is touched so an expired or absent window leaves
// the counter unchanged.
func (o *Orchestrator) verificationTap(ctx context.Context, req Request, cardID string, ctr *int64) (*store.AssignmentResult, error) {
	if err := o.pending.EnsureOpen(req.UserID); err != nil {
		return nil, err
	}

	result, err := o.bindings.Assign(ctx, req.UserID, cardID, ctr, req.Mac)
	if err != nil {
		return nil, err
	}

	o.pending.Clear(req.UserID)
	result.Status = store.StatusPendingCleared

	o.logger.Info("verification tap accepted", "user_id", req.UserID, "card_id", cardID)
	return result, nil
}

// registrationTap binds the card to the caller. No pending window is
// required; an ownership conflict surfaces from the store untouched.
func (o *Orchestrator) registrationTap(ctx context.Context, req Request, cardID string, ctr *int64) (*store.AssignmentResult, error) {
	result, err := o.bindings.Assign(ctx, req.UserID, cardID, ctr, req.Mac)
	if err != nil {
		return nil, err
	}

	o.logger.Info("registration tap accepted", "user_id", req.UserID, "card_id", cardID)
	return result, nil
}

// parseCounter turns the raw ctr parameter into an optional integer. An
// empty value means the card sent no counter.
func parseCounter(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCounter, raw)
	}
	return &value, nil
}

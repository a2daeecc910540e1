// ABOUTME: Verification of NFC tap parameters from SDM-capable cards
// ABOUTME: Supports keyed HMAC verification and a static learned-MAC fallback

package sdm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
)

var (
	// ErrEmptyIdentifier is returned when a tap carries no card identifier.
	ErrEmptyIdentifier = errors.New("empty card identifier")
	// ErrBadSignature is returned when a MAC does not verify.
	ErrBadSignature = errors.New("tap signature verification failed")
	// ErrNoSecret is returned when dynamic verification is requested but no
	// shared secret is configured.
	ErrNoSecret = errors.New("no shared secret configured")
)

// Verifier checks the authenticator on incoming taps. With a shared secret
// configured it recomputes the HMAC the card should have produced; without
// one it falls back to matching the first MAC ever seen for the card.
type Verifier struct {
	secret []byte
	logger *slog.Logger
}

// NewVerifier creates a verifier. An empty secret disables dynamic
// verification and leaves only the static fallback.
func NewVerifier(secret string, logger *slog.Logger) *Verifier {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Verifier{
		secret: key,
		logger: logger.With("component", "sdm"),
	}
}

// DynamicEnabled reports whether a shared secret is configured.
func (v *Verifier) DynamicEnabled() bool {
	return len(v.secret) > 0
}

// DeriveCardID normalizes a raw tap identifier into the canonical card ID:
// surrounding whitespace stripped, upper-cased. Two taps from the same
// physical card must always derive the same ID.
func (v *Verifier) DeriveCardID(sun string) (string, error) {
	cardID := strings.ToUpper(strings.TrimSpace(sun))
	if cardID == "" {
		return "", ErrEmptyIdentifier
	}
	return cardID, nil
}

// VerifyDynamic recomputes the expected HMAC-SHA256 over the raw identifier
// and counter and compares it to the provided MAC in constant time. The
// message is the raw sun as sent by the card, not the derived card ID.
func (v *Verifier) VerifyDynamic(sun, ctr, mac string) error {
	if !v.DynamicEnabled() {
		return ErrNoSecret
	}

	mh := hmac.New(sha256.New, v.secret)
	mh.Write([]byte(sun + ":" + ctr))
	expected := hex.EncodeToString(mh.Sum(nil))

	provided := NormalizeMAC(mac)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		v.logger.Warn("dynamic tap verification failed", "sun", sun)
		return ErrBadSignature
	}
	return nil
}

// VerifyStatic compares a provided MAC against the stored learned value.
// An empty stored value means nothing has been learned yet and the tap
// passes so the MAC can be recorded. Comparison is case-insensitive.
func (v *Verifier) VerifyStatic(storedMAC, providedMAC string) error {
	if storedMAC == "" {
		return nil
	}
	if NormalizeMAC(storedMAC) != NormalizeMAC(providedMAC) {
		v.logger.Warn("static tap verification failed")
		return ErrBadSignature
	}
	return nil
}

// NormalizeMAC lowercases a MAC and strips colon separators so readers that
// format the value differently still compare equal.
func NormalizeMAC(mac string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mac)), ":", "")
}

// ABOUTME: Tests for tap parameter verification
// ABOUTME: Covers identifier derivation, dynamic HMAC checks, and the static fallback

package sdm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computeMAC(secret, sun, ctr string) string {
	mh := hmac.New(sha256.New, []byte(secret))
	mh.Write([]byte(sun + ":" + ctr))
	return hex.EncodeToString(mh.Sum(nil))
}

func TestDeriveCardID(t *testing.T) {
	v := NewVerifier("", slog.Default())

	tests := []struct {
		name string
		sun  string
		want string
	}{
		{"plain", "abc123", "ABC123"},
		{"already upper", "ABC123", "ABC123"},
		{"surrounding whitespace", "  abc123\n", "ABC123"},
		{"mixed case", "aBc123", "ABC123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.DeriveCardID(tt.sun)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveCardIDEmpty(t *testing.T) {
	v := NewVerifier("", slog.Default())

	_, err := v.DeriveCardID("")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)

	_, err = v.DeriveCardID("   ")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestDynamicEnabled(t *testing.T) {
	assert.False(t, NewVerifier("", slog.Default()).DynamicEnabled())
	assert.True(t, NewVerifier("s3cret", slog.Default()).DynamicEnabled())
}

func TestVerifyDynamic(t *testing.T) {
	v := NewVerifier("s3cret", slog.Default())
	mac := computeMAC("s3cret", "abc123", "7")

	assert.NoError(t, v.VerifyDynamic("abc123", "7", mac))
}

func TestVerifyDynamicAcceptsFormattedMAC(t *testing.T) {
	v := NewVerifier("s3cret", slog.Default())
	mac := computeMAC("s3cret", "abc123", "7")

	// Colon-separated uppercase rendering of the same MAC verifies
	formatted := ""
	for i := 0; i < len(mac); i += 2 {
		if formatted != "" {
			formatted += ":"
		}
		formatted += strings.ToUpper(mac[i : i+2])
	}
	assert.NoError(t, v.VerifyDynamic("abc123", "7", formatted))
}

func TestVerifyDynamicBadSignature(t *testing.T) {
	v := NewVerifier("s3cret", slog.Default())

	err := v.VerifyDynamic("abc123", "7", "deadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)

	// A MAC computed over a different counter must fail
	mac := computeMAC("s3cret", "abc123", "8")
	assert.ErrorIs(t, v.VerifyDynamic("abc123", "7", mac), ErrBadSignature)

	// A MAC computed with a different key must fail
	mac = computeMAC("wrong", "abc123", "7")
	assert.ErrorIs(t, v.VerifyDynamic("abc123", "7", mac), ErrBadSignature)
}

func TestVerifyDynamicNoSecret(t *testing.T) {
	v := NewVerifier("", slog.Default())

	assert.ErrorIs(t, v.VerifyDynamic("abc123", "7", "deadbeef"), ErrNoSecret)
}

func TestVerifyStatic(t *testing.T) {
	v := NewVerifier("", slog.Default())

	// Nothing learned yet: any MAC passes
	assert.NoError(t, v.VerifyStatic("", "deadbeef"))
	assert.NoError(t, v.VerifyStatic("", ""))

	// Learned values match case-insensitively and ignore colons
	assert.NoError(t, v.VerifyStatic("deadbeef", "DEADBEEF"))
	assert.NoError(t, v.VerifyStatic("deadbeef", "de:ad:be:ef"))

	assert.ErrorIs(t, v.VerifyStatic("deadbeef", "cafebabe"), ErrBadSignature)
	assert.ErrorIs(t, v.VerifyStatic("deadbeef", ""), ErrBadSignature)
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "deadbeef", NormalizeMAC("DE:AD:BE:EF"))
	assert.Equal(t, "deadbeef", NormalizeMAC("  deadbeef  "))
	assert.Equal(t, "", NormalizeMAC(""))
}

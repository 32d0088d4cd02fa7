package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestKioskToken_RoundTrip(t *testing.T) {
	tok, err := NewKioskToken("secret", "kiosk-7", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	id, err := ParseKioskToken("secret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-7", id)
}

func TestParseKioskToken_Rejects(t *testing.T) {
	now := time.Now()
	expired, err := NewToken("secret", "kiosk-7", RoleKiosk, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	admin, err := NewToken("secret", "ops", RoleAdmin, time.Hour, now)
	require.NoError(t, err)
	valid, err := NewKioskToken("secret", "kiosk-7", time.Hour)
	require.NoError(t, err)

	cases := map[string]struct{ secret, raw string }{
		"expired":      {"secret", expired.Token},
		"admin role":   {"secret", admin.Token},
		"wrong secret": {"other", valid.Token},
		"garbage":      {"secret", "not-a-jwt"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseKioskToken(tc.secret, tc.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestParseToken_AdminClaims(t *testing.T) {
	tok, err := NewToken("secret", "ops", RoleAdmin, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ParseToken("secret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "ops", claims.Subject)
}

func TestVerifySecret(t *testing.T) {
	hash, err := HashSecret("device-secret", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifySecret(hash, "device-secret"))
	assert.False(t, VerifySecret(hash, "guess"))
	assert.False(t, VerifySecret("", "device-secret"))
	assert.False(t, VerifySecret(hash, ""))
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("abc"))
	assert.NotEqual(t, h, HashToken("abd"))
}

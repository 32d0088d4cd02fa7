package utils // package utils provides token signing and secret hashing helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleKiosk = "kiosk"
	RoleAdmin = "admin"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// role checks.
var ErrInvalidToken = errors.New("invalid token")

// KioskToken is a signed credential bound to one kiosk id.
type KioskToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expiresAt"`
}

// Claims are the registered claims plus the role of the bearer.  Subject
// is the kiosk id for kiosk tokens and the operator name for admin tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for subject with role, valid for ttl from now.
func NewToken(secret, subject, role string, ttl time.Duration, now time.Time) (KioskToken, error) {
	exp := now.UTC().Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return KioskToken{}, err
	}
	return KioskToken{Token: signed, Exp: exp}, nil
}

// NewKioskToken issues the channel credential for kioskID.
func NewKioskToken(secret, kioskID string, ttl time.Duration) (KioskToken, error) {
	return NewToken(secret, kioskID, RoleKiosk, ttl, time.Now())
}

// ParseToken verifies raw and returns its claims.  Expiry is checked here,
// at connect time only.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// ParseKioskToken verifies raw and returns the kiosk id it was issued for.
func ParseKioskToken(secret, raw string) (string, error) {
	claims, err := ParseToken(secret, raw)
	if err != nil {
		return "", err
	}
	if claims.Role != RoleKiosk {
		return "", fmt.Errorf("%w: role %q is not a kiosk", ErrInvalidToken, claims.Role)
	}
	return claims.Subject, nil
}

// HashToken returns the hex SHA-256 of a raw token.  Only the hash is
// stored in the issuance log.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret returns the bcrypt hash of a kiosk device secret.
func HashSecret(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifySecret compares a stored bcrypt hash with the presented secret.
func VerifySecret(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

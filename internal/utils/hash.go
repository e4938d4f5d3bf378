package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret returns a bcrypt hash of a client secret.
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckSecret compares a bcrypt hashed secret with its possible plaintext equivalent.
func CheckSecret(hashedSecret, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret)) == nil
}

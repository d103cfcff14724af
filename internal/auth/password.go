package auth

import (
	"errors"
	"fmt"

	"github.com/lalith-99/echoroom/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt at the default cost.
// bcrypt salts every hash, so equal passwords produce different hashes.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored hash in
// constant time. A mismatch wraps apperr.ErrUnauthenticated.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("compare password: %w", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

package auth

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt hashing.
const BcryptCost = 10

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// ValidatePassword checks if a password matches the hash.
func ValidatePassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	numberRe  = regexp.MustCompile(`[0-9]`)
	specialRe = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?]`)
)

// CheckPasswordStrength enforces minLength (from Config.PasswordMinLength)
// and, when requireStrong is set, a mix of upper/lower/digit/special
// characters.
func CheckPasswordStrength(password string, minLength int, requireStrong bool) error {
	if password == "" {
		return ErrEmptyPassword
	}

	if len(password) < minLength {
		return ErrPasswordTooShort
	}

	if !requireStrong {
		return nil
	}

	if !upperRe.MatchString(password) || !lowerRe.MatchString(password) ||
		!numberRe.MatchString(password) || !specialRe.MatchString(password) {
		return ErrWeakPassword
	}

	return nil
}

// ValidateUsername validates username format: 3-50 chars, alphanumeric
// plus underscore/hyphen.
func ValidateUsername(username string) error {
	if username == "" {
		return ErrInvalidUsername
	}
	if len(username) < 3 || len(username) > 50 {
		return ErrInvalidUsername
	}

	validUsername := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !validUsername.MatchString(username) {
		return ErrInvalidUsername
	}

	return nil
}

// ValidateEmail validates email format. An empty email is allowed since
// the field is optional on User.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}

	email = strings.TrimSpace(email)
	validEmail := regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	if !validEmail.MatchString(email) {
		return ErrInvalidEmail
	}

	return nil
}

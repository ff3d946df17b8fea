package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

const (
	singleUseTokenBytes = 32
	minPasswordLength   = 8
	maxUsernameLength   = 64
)

// NewSingleUseToken returns 32 random bytes, hex encoded.
func NewSingleUseToken() (string, error) {
	buf := make([]byte, singleUseTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DeriveUsername builds a username from the local part of email, replacing every
// run of non-alphanumeric characters with an underscore.
func DeriveUsername(email string) string {
	local := strings.TrimSpace(email)
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range local {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return b.String()
}

// ValidateUsername accepts letters, digits and underscores only, the same
// alphabet DeriveUsername produces. Usernames therefore never contain '@' and
// can never collide with an email address at login.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len([]rune(username)) > maxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters long", ErrInvalidInput, maxUsernameLength)
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return fmt.Errorf("%w: username may only contain letters, digits and underscores", ErrInvalidInput)
		}
	}
	return nil
}

// ValidatePassword enforces the strong password policy: at least eight
// characters with a lower-case letter, an upper-case letter, a digit and a symbol.
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidInput, minPasswordLength)
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return fmt.Errorf("%w: password must contain a lowercase letter, an uppercase letter, a number and a symbol", ErrInvalidInput)
	}
	return nil
}

func validateRegistration(in Registration) error {
	if strings.TrimSpace(in.FirstName) == "" {
		return fmt.Errorf("%w: first name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.LastName) == "" {
		return fmt.Errorf("%w: last name is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != strings.TrimSpace(in.Email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	if in.Username != "" {
		if err := ValidateUsername(in.Username); err != nil {
			return err
		}
	}
	if in.Age != nil && *in.Age < 0 {
		return fmt.Errorf("%w: age must not be negative", ErrInvalidInput)
	}
	return ValidatePassword(in.Password)
}

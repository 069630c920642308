package password

import (
	"errors"
	"unicode"
)

const minPasswordLength = 8

// ErrPolicy is returned by CheckPolicy when a candidate password misses a
// required character class or the minimum length.
var ErrPolicy = errors.New("password must be at least 8 characters with upper, lower, digit, and symbol")

// CheckPolicy enforces the vault password complexity rules: minimum 8
// characters with at least one lowercase letter, one uppercase letter,
// one digit, and one symbol.
func CheckPolicy(candidate string) error {
	var length, hasLower, hasUpper, hasDigit, hasSymbol = 0, false, false, false, false

	for _, r := range candidate {
		length++
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if length < minPasswordLength || !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return ErrPolicy
	}
	return nil
}

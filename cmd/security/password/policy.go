package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate reports whether password satisfies the policy.
// MinLength counts runes and never drops below MinLengthFloor; MaxLength counts
// bytes, since bcrypt does.
func (c Config) Validate(password string) error {
	if utf8.RuneCountInString(password) < c.MinLength() {
		return ErrPasswordTooShort
	}
	if len(password) > c.maxBytes() {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && isTrivial(password) {
		return ErrWeakPassword
	}
	return nil
}

func (c Config) maxBytes() int {
	if n := c.Policy.MaxLength; n > 0 && n < MaxBytes {
		return n
	}
	return MaxBytes
}

var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"secret":      {},
	"abc123":      {},
	"iloveyou":    {},
}

// isTrivial catches a handful of obviously guessable inputs: a single repeated
// character, a short all-digit PIN, or a well-known password.
func isTrivial(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	repeated, digits := true, true
	for _, r := range s {
		repeated = repeated && r == first
		digits = digits && unicode.IsDigit(r)
	}
	return repeated || (digits && utf8.RuneCountInString(s) < 10)
}

package password

import "errors"

var (
	// Policy violations reported by Validate.
	ErrPasswordTooShort = errors.New("password: too short")
	ErrPasswordTooLong  = errors.New("password: too long")
	ErrWeakPassword     = errors.New("password: too easy to guess")

	// ErrInvalidHash means a stored hash could not be parsed.
	ErrInvalidHash = errors.New("password: malformed hash")
)

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a token fails verification or is no longer active.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked is returned when a well-formed token has been removed from the user's list.
	ErrTokenRevoked = fmt.Errorf("%w: revoked", ErrInvalidToken)

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

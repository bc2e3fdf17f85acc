package app

import (
	"errors"
	"fmt"

	"userauth/cmd/security/password"
	"userauth/cmd/security/token"
)

// securityConfig groups the crypto settings loaded at startup.
type securityConfig struct {
	Password password.Config
	Token    token.Config
}

// LoadSecurityConfig loads password and token settings and enforces the
// startup security policy. The process refuses to start without a usable
// signing secret.
func LoadSecurityConfig() (securityConfig, error) {
	pw, err := password.FromEnv()
	if err != nil {
		return securityConfig{}, fmt.Errorf("security policy: %w", err)
	}

	tc, err := token.LoadConfigFromEnv()
	if err != nil {
		return securityConfig{}, securityPolicyError(err)
	}

	return securityConfig{Password: pw, Token: tc}, nil
}

func securityPolicyError(err error) error {
	switch {
	case errors.Is(err, token.ErrSecretMissing):
		return errors.New("security policy: USERAUTH_JWT_SECRET is missing")
	case errors.Is(err, token.ErrSecretTooShort):
		return fmt.Errorf("security policy: USERAUTH_JWT_SECRET is too short (min %d bytes)", token.MinSecretBytes)
	default:
		return fmt.Errorf("security policy: %w", err)
	}
}

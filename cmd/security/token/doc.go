// Package token signs and verifies userauth bearer tokens.
//
// Tokens are compact JWTs (HS256) carrying the payload {"user":{"id":...}} plus
// iat, exp and a unique jti. LoadConfigFromEnv reads the signing secret from
// USERAUTH_JWT_SECRET; NewSigner accepts any validated Config.
//
// Policy:
//   - The secret must be at least MinSecretBytes long.
//   - Only HS256 is accepted on verification; tokens without exp are rejected.
package token

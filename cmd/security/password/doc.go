// Package password provides password hashing and verification for userauth.
//
// Hashes are bcrypt strings ($2a$<cost>$<salt+hash>), so every hash carries its own
// random salt and work factor. The package also owns the password policy that is
// checked before hashing.
//
// Security notes:
//   - Verify treats stored hashes as untrusted input and reports ErrInvalidHash for
//     malformed values instead of a plain mismatch.
//   - bcrypt only reads the first 72 bytes of input; longer passwords are rejected by
//     the policy rather than silently truncated.
package password

// Package identity implements the userauth credential store.
//
// It owns the User record, the rule that passwords are hashed before they are
// persisted (User.SetPassword), credential verification (Credentials), and the
// Store persistence boundary with in-memory, MongoDB and PostgreSQL backends.
//
// Bearer-token issuance lives in the session package; identity only stores the
// list of active tokens on each user.
package identity

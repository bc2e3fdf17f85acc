// Package session issues, verifies and revokes the bearer tokens that
// authenticate API requests.
//
// A token is an HS256 JWT carrying {"user":{"id":...}} and a 48h expiry.
// Every issued token is also recorded on the owning user; a token that has
// been removed from that list no longer authenticates even before it expires.
package session

// Package auth issues and verifies the session tokens of the HTTP API and
// defines the Session the sync core reads its signed-in user from.
//
// Tokens are HS256 JWTs whose subject is the user id and whose "email"
// claim carries the directory email, so the server can identify the caller
// without a directory lookup.
package auth

// Package auth handles operator accounts for the Lumen Core API:
// Argon2id password hashing, JWT access tokens, and the SQLite-backed
// user store.
//
// Tokens are short-lived HS256 JWTs validated by signature only; the
// username inside the token becomes the actor recorded on manual
// transitions.
package auth

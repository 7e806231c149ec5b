// Package session maps bearer session tokens to account ids. There is no
// login: the first request without a known token mints a fresh session and a
// fresh account, and the token in the session cookie is the only credential.
package session

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// tokenBytes sizes session tokens. 32 random bytes keeps tokens far beyond
// guessing range for a bearer credential.
const tokenBytes = 32

// Registry holds the live session table.
//
// The registry is not safe for concurrent use. The engine core serialises all
// access under its own lock; see internal/engine.
type Registry struct {
	sessions map[string]string // session token → account id
}

// NewRegistry creates an empty session table.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]string)}
}

// Resolve returns the account for the presented token. Unknown or empty
// tokens mint a fresh session and account id; the presented value is never
// adopted as a token. created reports whether a new session was minted.
func (r *Registry) Resolve(token string) (session, account string, created bool) {
	if token != "" {
		if acct, ok := r.sessions[token]; ok {
			return token, acct, false
		}
	}
	session = newToken()
	account = uuid.New().String()
	r.sessions[session] = account
	return session, account, true
}

// Lookup returns the account for a token without minting anything.
func (r *Registry) Lookup(token string) (string, bool) {
	acct, ok := r.sessions[token]
	return acct, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

func newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

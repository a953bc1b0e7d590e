// Package auth is the shared-secret gate in front of the admin view. It is
// a soft gate: it answers whether a password matches and issues nothing.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrDenied = errors.New("access denied")

// Gate compares a submitted password with the configured secret. A secret
// starting with "$2" is a bcrypt hash.
type Gate struct {
	secret []byte
	hashed bool
}

func NewGate(secret string) *Gate {
	return &Gate{
		secret: []byte(secret),
		hashed: strings.HasPrefix(secret, "$2"),
	}
}

func (g *Gate) Authenticate(password string) bool {
	if len(g.secret) == 0 {
		return false
	}
	if g.hashed {
		return bcrypt.CompareHashAndPassword(g.secret, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare(g.secret, []byte(password)) == 1
}

// Check is Authenticate returning ErrDenied on mismatch.
func (g *Gate) Check(password string) error {
	if !g.Authenticate(password) {
		return ErrDenied
	}
	return nil
}

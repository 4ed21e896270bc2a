// Package identity derives the local user's identity from the stored
// session token. The decode is deliberately non-verifying: the client is
// extracting a display claim from a credential it issued to itself at
// login. Nothing here is a security boundary and the result must never
// feed an authorization decision.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken means no session token is stored; the caller must treat
	// the user as logged out and must not open a live channel.
	ErrNoToken = errors.New("no session token")

	// ErrNoEmailClaim means the token decoded but carries no email-like claim.
	ErrNoEmailClaim = errors.New("token has no email claim")
)

// Identity is the local user as seen by the messaging core. Email is the
// durable identifier throughout the system: room key, comparison key and
// search key. No numeric user id is relied upon.
type Identity struct {
	Email string
	Name  string
}

// TokenSource yields the current session token, or "" when logged out.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Resolve decodes the token payload and extracts the local user's identity.
func Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNoToken
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("decode token: %w", err)
	}

	email := emailClaim(claims)
	if email == "" {
		return Identity{}, ErrNoEmailClaim
	}

	name, _ := claims["name"].(string)
	return Identity{Email: strings.ToLower(email), Name: name}, nil
}

// ResolveFrom resolves the identity from a token source.
func ResolveFrom(src TokenSource) (Identity, error) {
	return Resolve(src.Token())
}

// emailClaim searches the common claim keys for an email-like value.
// The backend issues tokens with the email under "email"; "sub" is
// accepted as a fallback when it looks like an address.
func emailClaim(claims jwt.MapClaims) string {
	if v, ok := claims["email"].(string); ok && strings.Contains(v, "@") {
		return v
	}
	if v, ok := claims["sub"].(string); ok && strings.Contains(v, "@") {
		return v
	}
	return ""
}

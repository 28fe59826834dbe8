// Package identity verifies the session credential issued by the web front
// end, either a signed JWT or NextAuth's encrypted session cookie, and
// exposes the caller on the request context.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultCookieName = "next-auth.session-token"

var (
	ErrNoCredential = errors.New("no session credential")
	ErrInvalid      = errors.New("invalid session credential")
)

// Identity is the authenticated caller. Only UserID is guaranteed to be
// set; Email is required by operations that archive audio.
type Identity struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type claims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret     []byte
	encKey     []byte
	cookieName string
	parser     *jwt.Parser
	validator  *jwt.Validator
}

func NewVerifier(secret, cookieName, issuer string) *Verifier {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	v := &Verifier{
		secret:     []byte(secret),
		cookieName: cookieName,
		parser:     jwt.NewParser(opts...),
		validator:  jwt.NewValidator(opts...),
	}
	if secret != "" {
		v.encKey = sessionEncryptionKey(v.secret)
	}
	return v
}

// Verify checks the token and its claims and returns the caller. Compact
// JWS tokens must be HS256-signed with the secret; five-segment tokens are
// treated as encrypted NextAuth session cookies.
func (v *Verifier) Verify(token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: session secret not configured", ErrInvalid)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNoCredential
	}

	var c claims
	if strings.Count(token, ".") == 4 {
		if err := v.decryptSession(token, &c); err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	} else if _, err := v.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if strings.TrimSpace(c.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalid)
	}

	return Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURL: c.Picture,
	}, nil
}

// FromRequest reads the credential from the session cookie, falling back
// to an Authorization bearer header.
func (v *Verifier) FromRequest(r *http.Request) (Identity, error) {
	if value := sessionCookie(r, v.cookieName); value != "" {
		return v.Verify(value)
	}

	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return v.Verify(strings.TrimSpace(token))
	}

	return Identity{}, ErrNoCredential
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

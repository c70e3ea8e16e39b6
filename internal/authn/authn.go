// Package authn resolves a submitter identity from an incoming HTTP
// request. Every translation record is owned by the identity that
// submitted it, so authentication is the access-control boundary for
// status, poll and stream reads.
package authn

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrMissingBearerToken = errors.New("missing bearer token")
)

// Claims carries the authenticated caller identity.
type Claims struct {
	// Subject is the submitter id attached to every record the caller
	// creates and the ownership key for reads.
	Subject string
}

type Authenticator interface {
	// Authenticate returns a nil error and the Claims info if the caller is
	// authenticated, or a non-nil error with an appropriate cause otherwise.
	Authenticate(r *http.Request) (*Claims, error)

	Close()
}

// NoopAuthenticator admits every request, deriving the subject from the
// X-User-ID header. Meant for local development and tests.
type NoopAuthenticator struct{}

var _ Authenticator = (*NoopAuthenticator)(nil)

func (n NoopAuthenticator) Authenticate(r *http.Request) (*Claims, error) {
	subject := r.Header.Get("X-User-ID")
	if subject == "" {
		subject = "anonymous"
	}
	return &Claims{Subject: subject}, nil
}

func (n NoopAuthenticator) Close() {}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingBearerToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingBearerToken
	}
	return token, nil
}

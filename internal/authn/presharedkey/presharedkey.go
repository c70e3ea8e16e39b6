package presharedkey

import (
	"errors"
	"net/http"

	"github.com/lingorelay/lingorelay/internal/authn"
)

// PresharedKeyAuthenticator maps static bearer keys to submitter
// identities. A key with no explicit principal uses the key itself as the
// subject, so single-tenant deployments can configure plain key lists.
type PresharedKeyAuthenticator struct {
	ValidKeys map[string]string
}

var _ authn.Authenticator = (*PresharedKeyAuthenticator)(nil)

// NewPresharedKeyAuthenticator builds an authenticator from "key" or
// "key=principal" entries.
func NewPresharedKeyAuthenticator(validKeys []string) (*PresharedKeyAuthenticator, error) {
	if len(validKeys) < 1 {
		return nil, errors.New("invalid auth configuration, please specify at least one key")
	}
	vKeys := make(map[string]string, len(validKeys))
	for _, entry := range validKeys {
		key, principal := splitEntry(entry)
		if key == "" {
			return nil, errors.New("invalid auth configuration, empty key")
		}
		vKeys[key] = principal
	}

	return &PresharedKeyAuthenticator{ValidKeys: vKeys}, nil
}

func splitEntry(entry string) (string, string) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == '=' {
			return entry[:i], entry[i+1:]
		}
	}
	return entry, entry
}

func (pka *PresharedKeyAuthenticator) Authenticate(r *http.Request) (*authn.Claims, error) {
	token, err := authn.BearerToken(r)
	if err != nil {
		return nil, err
	}

	if principal, found := pka.ValidKeys[token]; found {
		return &authn.Claims{Subject: principal}, nil
	}

	return nil, authn.ErrUnauthenticated
}

func (pka *PresharedKeyAuthenticator) Close() {}

// Package auth implements the single HTTP Basic credential this bridge
// accepts: the username is ignored, and the expected password is read
// from the vault on every request so rotation takes effect without a
// restart.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/cybercypher/setu-carddav/internal/vault"
)

type ctxKey int

const principalKey ctxKey = 1

// Principal marks a request as authenticated; there is exactly one
// possible principal in a single-user bridge, so it carries no fields.
type Principal struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// BasicAuth authenticates a request's Authorization header against the
// vault-held password.
type BasicAuth struct {
	Vault vault.Vault
}

func (b *BasicAuth) Authenticate(ctx context.Context, header string) (*Principal, error) {
	if header == "" {
		return nil, errors.New("no authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "basic") {
		return nil, errors.New("not basic auth")
	}
	dec, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	creds := strings.SplitN(string(dec), ":", 2)
	if len(creds) != 2 {
		return nil, errors.New("malformed basic credentials")
	}
	// username is intentionally ignored; there is exactly one account.
	_, password := creds[0], creds[1]

	expected, ok, err := b.Vault.Get(vault.KeyCardDAVPassword)
	if err != nil {
		return nil, err
	}
	if !ok || password != expected {
		return nil, errors.New("password mismatch")
	}
	return &Principal{}, nil
}

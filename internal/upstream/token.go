package upstream

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/oauth2"

	"github.com/cybercypher/setu-carddav/internal/vault"
)

// googleEndpoint is hardcoded rather than imported from
// golang.org/x/oauth2/google to avoid pulling in that package's wider
// Application Default Credentials surface for what is otherwise a
// two-URL constant.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// TokenSource builds an oauth2.TokenSource backed by the OAuth token
// cached in v, refreshing through cfg and persisting any refreshed
// token back to the vault so the next process start reuses it.
func TokenSource(ctx context.Context, v vault.Vault, clientID, clientSecret string) (oauth2.TokenSource, error) {
	raw, ok, err := v.Get(vault.KeyOAuthToken)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, errors.New("no cached OAuth token available")
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, err
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleEndpoint,
	}

	base := cfg.TokenSource(ctx, &tok)
	return &persistingTokenSource{base: base, vault: v, last: &tok}, nil
}

// persistingTokenSource wraps a base oauth2.TokenSource and writes
// every freshly-minted token back to the vault, so a refresh survives
// a restart.
type persistingTokenSource struct {
	base  oauth2.TokenSource
	vault vault.Vault
	last  *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last.AccessToken {
		data, merr := json.Marshal(tok)
		if merr == nil {
			_ = p.vault.Set(vault.KeyOAuthToken, string(data))
		}
		p.last = tok
	}
	return tok, nil
}

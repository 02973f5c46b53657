package keyset

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover resolves the jwks_uri advertised by issuer's OpenID configuration.
// It is used when no key-set URL is configured explicitly.
func Discover(ctx context.Context, issuer string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", issuer, err)
	}
	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("discover %s: %w", issuer, err)
	}
	if meta.JWKSURI == "" {
		return "", fmt.Errorf("discover %s: no jwks_uri advertised", issuer)
	}
	return meta.JWKSURI, nil
}

package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OIDCProvider holds the parts of an OpenID Connect discovery document the
// session middleware needs.
type OIDCProvider struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// NewOIDCProvider fetches <issuer>/.well-known/openid-configuration.
func NewOIDCProvider(issuerURL string) (*OIDCProvider, error) {
	issuerURL = strings.TrimRight(issuerURL, "/")
	discoveryURL := issuerURL + "/.well-known/openid-configuration"

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("fetching OIDC discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var provider OIDCProvider
	if err := json.NewDecoder(resp.Body).Decode(&provider); err != nil {
		return nil, fmt.Errorf("decoding OIDC discovery document: %w", err)
	}

	if provider.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC discovery document missing jwks_uri")
	}

	return &provider, nil
}

// ResolveJWKSURL returns jwksURL when set, otherwise discovers it from the
// issuer. Identity providers that skip discovery publish their keys at
// <issuer>/.well-known/jwks.json, which is used as the last fallback.
func ResolveJWKSURL(issuer, jwksURL string) (string, error) {
	if jwksURL != "" {
		return jwksURL, nil
	}
	if issuer == "" {
		return "", fmt.Errorf("either an issuer or a JWKS URL is required")
	}
	provider, err := NewOIDCProvider(issuer)
	if err == nil {
		return provider.JWKSURI, nil
	}
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json", nil
}

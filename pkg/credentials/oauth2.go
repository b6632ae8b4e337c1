package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// OAuth2Provider resolves a connection string whose password half is a
// short-lived bearer token obtained via the OAuth2 client-credentials
// flow (cloud-IAM database auth). The token's JWT exp claim, not a fixed
// TTL, decides when the cached token is stale.
type OAuth2Provider struct {
	cfg        clientcredentials.Config
	dsnPrefix  string // e.g. "postgres://app@db.internal:5432/orders?sslmode=require&password="

	mu      sync.Mutex
	token   *oauth2.Token
	expires time.Time
}

// NewOAuth2Provider builds a provider around a client-credentials
// config. dsnPrefix is everything in the connection string up to and
// including the query parameter the bearer token fills in.
func NewOAuth2Provider(tokenURL, clientID, clientSecret, dsnPrefix string, scopes ...string) *OAuth2Provider {
	return &OAuth2Provider{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		dsnPrefix: dsnPrefix,
	}
}

// Resolve implements sharding.CredentialResolver: returns the cached
// token if still fresh, otherwise exchanges for a new one.
func (p *OAuth2Provider) Resolve(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == nil || p.needsRefreshLocked(30*time.Second) {
		if err := p.exchangeLocked(ctx); err != nil {
			return "", err
		}
	}
	return p.dsnPrefix + p.token.AccessToken, nil
}

// NeedsRefresh reports whether the cached token expires within
// threshold of now, for the housekeeping scheduler's pre-refresh pass.
// A provider that has never resolved is considered due for refresh.
func (p *OAuth2Provider) NeedsRefresh(threshold time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return true
	}
	return p.needsRefreshLocked(threshold)
}

func (p *OAuth2Provider) needsRefreshLocked(threshold time.Duration) bool {
	if p.expires.IsZero() {
		return false
	}
	return time.Until(p.expires) <= threshold
}

// RefreshNow exchanges for a new token unconditionally and bumps
// version so Endpoints holding a cached connection string built from
// the stale token re-resolve on their next use.
func (p *OAuth2Provider) RefreshNow(ctx context.Context, version *sharding.ConfigVersion) error {
	p.mu.Lock()
	err := p.exchangeLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if version != nil {
		version.Bump()
	}
	return nil
}

func (p *OAuth2Provider) exchangeLocked(ctx context.Context) error {
	tok, err := p.cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("credentials: oauth2 token exchange: %w", err)
	}
	p.token = tok
	p.expires = expiryFromToken(tok)
	return nil
}

// expiryFromToken prefers the access token's own JWT exp claim over
// oauth2.Token.Expiry, since some IAM providers set Expiry to the
// refresh-token lifetime rather than the access token's.
func expiryFromToken(tok *oauth2.Token) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return tok.Expiry
}

// AsResolver adapts p to a sharding.CredentialResolver for embedding in
// an Endpoint.
func (p *OAuth2Provider) AsResolver() sharding.CredentialResolver {
	return p.Resolve
}

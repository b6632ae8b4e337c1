package credentials_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkit/shardkit/pkg/credentials"
	"github.com/shardkit/shardkit/pkg/sharding"
)

// signedTokenExpiringIn returns an HS256 JWT (unverified by the
// provider, which only reads its exp claim) expiring at d from now.
func signedTokenExpiringIn(t *testing.T, d time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(d))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return tok
}

func tokenEndpoint(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer","expires_in":3600}`, accessToken)
	}))
}

func TestOAuth2ProviderResolvesBearerIntoConnectionString(t *testing.T) {
	srv := tokenEndpoint(t, signedTokenExpiringIn(t, time.Hour))
	defer srv.Close()

	p := credentials.NewOAuth2Provider(srv.URL, "client-id", "client-secret", "postgres://app@db:5432/orders?password=")
	got, err := p.Resolve(t.Context())
	require.NoError(t, err)
	assert.Contains(t, got, "postgres://app@db:5432/orders?password=")
	assert.False(t, p.NeedsRefresh(30*time.Second))
}

func TestOAuth2ProviderNeedsRefreshNearExpiry(t *testing.T) {
	srv := tokenEndpoint(t, signedTokenExpiringIn(t, 10*time.Second))
	defer srv.Close()

	p := credentials.NewOAuth2Provider(srv.URL, "client-id", "client-secret", "postgres://app@db:5432/orders?password=")
	_, err := p.Resolve(t.Context())
	require.NoError(t, err)

	assert.True(t, p.NeedsRefresh(30*time.Second))
}

func TestOAuth2ProviderRefreshNowBumpsVersion(t *testing.T) {
	srv := tokenEndpoint(t, signedTokenExpiringIn(t, time.Hour))
	defer srv.Close()

	p := credentials.NewOAuth2Provider(srv.URL, "client-id", "client-secret", "postgres://app@db:5432/orders?password=")
	var version sharding.ConfigVersion

	require.NoError(t, p.RefreshNow(t.Context(), &version))
	assert.Equal(t, uint64(1), version.Load())
}

func TestOAuth2ProviderNeedsRefreshBeforeFirstResolve(t *testing.T) {
	p := credentials.NewOAuth2Provider("http://unused.invalid", "id", "secret", "prefix=")
	assert.True(t, p.NeedsRefresh(30*time.Second))
}

// Package credentials supplies the concrete sharding.CredentialResolver
// implementations an Endpoint resolves against: a static connection
// string audited at rest with bcrypt, and an OAuth2 client-credentials
// exchange for cloud-IAM style short-lived bearer passwords.
package credentials

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// StaticProvider resolves a fixed connection string. The string is kept
// in memory only; auditHash holds a bcrypt hash of it so a deployment can
// verify the configured secret matches an expected value (e.g. during a
// credential rotation drill) without storing the plaintext twice.
type StaticProvider struct {
	connectionString string
	auditHash        string
}

// NewStaticProvider builds a StaticProvider and bcrypt-hashes
// connectionString for later audit comparison.
func NewStaticProvider(connectionString string) (*StaticProvider, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(connectionString), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("credentials: hash static secret: %w", err)
	}
	return &StaticProvider{connectionString: connectionString, auditHash: string(hash)}, nil
}

// Resolve implements sharding.CredentialResolver.
func (p *StaticProvider) Resolve(context.Context) (string, error) {
	return p.connectionString, nil
}

// AuditMatches reports whether candidate matches the secret this
// provider was constructed with, without ever comparing plaintext.
func (p *StaticProvider) AuditMatches(candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(p.auditHash), []byte(candidate)) == nil
}

// AsResolver adapts p to a sharding.CredentialResolver for embedding in
// an Endpoint.
func (p *StaticProvider) AsResolver() sharding.CredentialResolver {
	return p.Resolve
}

package sharding

import (
	"context"
	"sync"
)

// CredentialResolver resolves an Endpoint's connection string. Static
// credentials, integrated auth, and token exchange all implement this
// one function shape — see pkg/credentials for the concrete providers.
type CredentialResolver func(ctx context.Context) (string, error)

// Endpoint is a connection configuration: a resolver plus the resilience
// key it references (spec.md §3). A resolved connection string is
// cached until ConfigVersion changes, per spec.md §9's redesign of the
// source's property-change notification into a version counter.
type Endpoint struct {
	Description string
	ResilienceKey string
	Resolve     CredentialResolver
	Version     *ConfigVersion

	mu            sync.Mutex
	cached        string
	cachedVersion uint64
	haveCached    bool
}

// ConnectionString returns the finalized connection string, resolving
// and caching it on first use or whenever Version has advanced past the
// cached snapshot.
func (e *Endpoint) ConnectionString(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var current uint64
	if e.Version != nil {
		current = e.Version.Load()
	}
	if e.haveCached && current == e.cachedVersion {
		return e.cached, nil
	}

	s, err := e.Resolve(ctx)
	if err != nil {
		return "", err
	}
	e.cached = s
	e.cachedVersion = current
	e.haveCached = true
	return s, nil
}

// StaticEndpoint builds an Endpoint around a fixed connection string,
// for tests and simple deployments that need no credential provider.
func StaticEndpoint(description, resilienceKey, connectionString string) Endpoint {
	return Endpoint{
		Description:   description,
		ResilienceKey: resilienceKey,
		Resolve: func(context.Context) (string, error) {
			return connectionString, nil
		},
	}
}

// Package housekeeping runs background jobs a ShardSet benefits from but
// never requires: a breaker-open nudge for operational visibility, and
// proactive OAuth2 credential refresh ahead of token expiry
// (SPEC_FULL.md §4.9). Grounded on pkg/failover/controller.go's
// enable/disable + ticker-loop idiom, swapped for robfig/cron/v3 since
// both jobs run on independent, named schedules rather than one shared
// interval.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// BreakerSource is anything a breaker-probe job can read phase/age from;
// *sharding.ConnectionManager satisfies it.
type BreakerSource interface {
	BreakerPhase() (phase sharding.BreakerPhase, consecutiveFailures int, openSince time.Time)
}

// RefreshableCredential is a credential provider that knows when its
// cached token is near expiry and can refresh on demand; see
// pkg/credentials.OAuth2Provider.
type RefreshableCredential interface {
	NeedsRefresh(threshold time.Duration) bool
	RefreshNow(ctx context.Context, version *sharding.ConfigVersion) error
}

// Scheduler wraps a *cron.Cron running the two housekeeping jobs.
// Neither job ever flips a breaker itself or blocks query dispatch;
// ShardSet works identically with zero jobs scheduled.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu          sync.Mutex
	endpoints   map[string]BreakerSource
	credentials map[string]refreshTarget
}

type refreshTarget struct {
	provider RefreshableCredential
	version  *sharding.ConfigVersion
}

// New builds an empty Scheduler. Watch/WatchCredential register the
// sources the jobs should inspect; the jobs themselves are added with
// ScheduleBreakerProbe/ScheduleCredentialRefresh.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:        cron.New(),
		logger:      logger,
		endpoints:   make(map[string]BreakerSource),
		credentials: make(map[string]refreshTarget),
	}
}

// Watch registers an endpoint's connection manager for the
// breaker-probe job, keyed by the endpoint's human-readable description.
func (s *Scheduler) Watch(endpointDescription string, cm BreakerSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[endpointDescription] = cm
}

// WatchCredential registers an OAuth2-backed credential provider for the
// pre-refresh job. version is bumped on every successful refresh so
// Endpoints relying on it re-resolve before their cached token expires.
func (s *Scheduler) WatchCredential(name string, provider RefreshableCredential, version *sharding.ConfigVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[name] = refreshTarget{provider: provider, version: version}
}

// ScheduleBreakerProbe adds the breaker-probe job on the given cron
// spec (e.g. "@every 30s"). The job logs a Warn for any endpoint whose
// breaker has been Open for longer than 2x testInterval — one interval
// for every watched endpoint, not each breaker's own test interval; it
// never calls into the breaker itself.
func (s *Scheduler) ScheduleBreakerProbe(spec string, testInterval time.Duration) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { s.probeBreakers(testInterval) })
}

// ScheduleCredentialRefresh adds the credential pre-refresh job on the
// given cron spec. threshold is how far ahead of expiry to refresh.
func (s *Scheduler) ScheduleCredentialRefresh(spec string, threshold time.Duration) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { s.refreshCredentials(threshold) })
}

func (s *Scheduler) probeBreakers(testInterval time.Duration) {
	s.mu.Lock()
	endpoints := make(map[string]BreakerSource, len(s.endpoints))
	for k, v := range s.endpoints {
		endpoints[k] = v
	}
	s.mu.Unlock()

	probeID := uuid.New().String()
	for description, cm := range endpoints {
		phase, failures, openSince := cm.BreakerPhase()
		if phase != sharding.BreakerOpen || openSince.IsZero() {
			continue
		}
		if time.Since(openSince) > 2*testInterval {
			s.logger.Warn("breaker has been open longer than expected",
				zap.String("probe_id", probeID),
				zap.String("endpoint", description),
				zap.Int("consecutive_failures", failures),
				zap.Duration("open_for", time.Since(openSince)))
		}
	}
}

func (s *Scheduler) refreshCredentials(threshold time.Duration) {
	s.mu.Lock()
	targets := make(map[string]refreshTarget, len(s.credentials))
	for k, v := range s.credentials {
		targets[k] = v
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for name, t := range targets {
		if !t.provider.NeedsRefresh(threshold) {
			continue
		}
		if err := t.provider.RefreshNow(ctx, t.version); err != nil {
			s.logger.Error("credential pre-refresh failed", zap.String("credential", name), zap.Error(err))
			continue
		}
		s.logger.Info("credential refreshed ahead of expiry", zap.String("credential", name))
	}
}

// Start starts the cron scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

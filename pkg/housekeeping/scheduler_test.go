package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shardkit/shardkit/pkg/sharding"
)

type fakeBreakerSource struct {
	phase     sharding.BreakerPhase
	failures  int
	openSince time.Time
}

func (f fakeBreakerSource) BreakerPhase() (sharding.BreakerPhase, int, time.Time) {
	return f.phase, f.failures, f.openSince
}

type fakeCredential struct {
	needsRefresh bool
	refreshErr   error
	refreshed    int
}

func (f *fakeCredential) NeedsRefresh(time.Duration) bool { return f.needsRefresh }

func (f *fakeCredential) RefreshNow(_ context.Context, version *sharding.ConfigVersion) error {
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshed++
	if version != nil {
		version.Bump()
	}
	return nil
}

func newObservedScheduler() (*Scheduler, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(zap.New(core))
	return s, logs
}

func TestProbeBreakersWarnsWhenOpenPastDoubleTestInterval(t *testing.T) {
	s, logs := newObservedScheduler()
	s.Watch("stale-endpoint", fakeBreakerSource{
		phase:     sharding.BreakerOpen,
		failures:  5,
		openSince: time.Now().Add(-time.Hour),
	})

	s.probeBreakers(time.Second)

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "breaker has been open longer than expected")
}

func TestProbeBreakersSkipsClosedAndFreshlyOpenBreakers(t *testing.T) {
	s, logs := newObservedScheduler()
	s.Watch("closed-endpoint", fakeBreakerSource{phase: sharding.BreakerClosed})
	s.Watch("fresh-endpoint", fakeBreakerSource{phase: sharding.BreakerOpen, openSince: time.Now()})

	s.probeBreakers(time.Hour)

	assert.Equal(t, 0, logs.Len())
}

func TestRefreshCredentialsRefreshesOnlyWhenNeeded(t *testing.T) {
	s, _ := newObservedScheduler()
	stale := &fakeCredential{needsRefresh: true}
	fresh := &fakeCredential{needsRefresh: false}
	var version sharding.ConfigVersion

	s.WatchCredential("stale", stale, &version)
	s.WatchCredential("fresh", fresh, &version)

	s.refreshCredentials(30 * time.Second)

	assert.Equal(t, 1, stale.refreshed)
	assert.Equal(t, 0, fresh.refreshed)
	assert.Equal(t, uint64(1), version.Load())
}

// Package etcd publishes shard-set topology changes from an etcd key by
// bumping a sharding.ConfigVersion and invoking registered callbacks
// whenever the watched key's value changes (spec.md §9's dynamic-source
// redesign, SPEC_FULL.md §4.7). It does not modify a running ShardSet,
// whose membership is fixed at construction.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/shardkit/shardkit/pkg/config"
	"github.com/shardkit/shardkit/pkg/sharding"
)

// TopologyCallback receives a freshly decoded ShardSetSpec whenever the
// watched key changes.
type TopologyCallback func(spec config.ShardSetSpec)

// Watcher watches a single etcd key holding a JSON-encoded
// config.ShardSetSpec and publishes updates via callbacks, mirroring
// pkg/config.HotReloader's callback idiom but driven by etcd's native
// watch stream instead of polling a file hash.
type Watcher struct {
	client *clientv3.Client
	key    string
	logger *zap.Logger
	ver    *sharding.ConfigVersion

	mu        sync.RWMutex
	current   config.ShardSetSpec
	callbacks []TopologyCallback
}

// NewWatcher builds a Watcher for key, bumping ver on every observed
// change. ver may be nil if the caller only needs the callback.
func NewWatcher(client *clientv3.Client, key string, ver *sharding.ConfigVersion, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{client: client, key: key, ver: ver, logger: logger}
}

// OnChange registers a callback invoked after every accepted topology
// update, including the initial Load.
func (w *Watcher) OnChange(cb TopologyCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the most recently observed spec.
func (w *Watcher) Current() config.ShardSetSpec {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Load fetches the key's current value once, without starting a watch.
// Run does not call Load; a caller that needs a topology before the
// first watch event arrives calls Load before Run.
func (w *Watcher) Load(ctx context.Context) error {
	resp, err := w.client.Get(ctx, w.key)
	if err != nil {
		return fmt.Errorf("discovery/etcd: get %q: %w", w.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	return w.apply(resp.Kvs[0].Value)
}

// Run watches the key until ctx is cancelled, applying every PUT event.
// DELETE events are ignored: a topology that disappears from etcd does
// not imply shards should disappear from a running ShardSet.
func (w *Watcher) Run(ctx context.Context) error {
	watchCh := w.client.Watch(ctx, w.key)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-watchCh:
			if !ok {
				return fmt.Errorf("discovery/etcd: watch channel closed for %q", w.key)
			}
			if err := resp.Err(); err != nil {
				w.logger.Warn("etcd watch error", zap.String("key", w.key), zap.Error(err))
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				if err := w.apply(ev.Kv.Value); err != nil {
					w.logger.Warn("discarding malformed topology update", zap.String("key", w.key), zap.Error(err))
				}
			}
		}
	}
}

func (w *Watcher) apply(raw []byte) error {
	var spec config.ShardSetSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("decode shard set spec: %w", err)
	}

	w.mu.Lock()
	w.current = spec
	callbacks := append([]TopologyCallback(nil), w.callbacks...)
	w.mu.Unlock()

	if w.ver != nil {
		w.ver.Bump()
	}
	for _, cb := range callbacks {
		cb(spec)
	}
	return nil
}

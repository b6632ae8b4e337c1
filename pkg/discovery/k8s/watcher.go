// Package k8s publishes shard-set topology changes from a Kubernetes
// ConfigMap by bumping a sharding.ConfigVersion and invoking registered
// callbacks; it does not modify a running ShardSet, whose membership is
// fixed at construction. It is the client-go analogue of
// discovery/etcd.Watcher (spec.md §9, SPEC_FULL.md §4.7). Grounded on
// the teacher's watchConfigMaps/handleConfigMapEvent pair, narrowed from
// application discovery to a single ConfigMap key holding a JSON
// config.ShardSetSpec.
package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/shardkit/shardkit/pkg/config"
	"github.com/shardkit/shardkit/pkg/sharding"
)

// TopologyCallback receives a freshly decoded ShardSetSpec whenever the
// watched ConfigMap key changes.
type TopologyCallback func(spec config.ShardSetSpec)

// Watcher watches one key of one ConfigMap for a JSON-encoded
// config.ShardSetSpec.
type Watcher struct {
	client    kubernetes.Interface
	namespace string
	name      string
	dataKey   string
	logger    *zap.Logger
	ver       *sharding.ConfigVersion

	mu        sync.RWMutex
	current   config.ShardSetSpec
	callbacks []TopologyCallback
}

// NewWatcher builds a Watcher against an in-cluster (falling back to
// local kubeconfig) client.
func NewWatcher(namespace, name, dataKey string, ver *sharding.ConfigVersion, logger *zap.Logger) (*Watcher, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		cfg, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("discovery/k8s: build config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery/k8s: build client: %w", err)
	}
	return NewWatcherFromClient(clientset, namespace, name, dataKey, ver, logger), nil
}

// NewWatcherFromClient builds a Watcher from an existing client, for
// tests (fake.Clientset implements kubernetes.Interface).
func NewWatcherFromClient(client kubernetes.Interface, namespace, name, dataKey string, ver *sharding.ConfigVersion, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{client: client, namespace: namespace, name: name, dataKey: dataKey, ver: ver, logger: logger}
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

// Load fetches the ConfigMap once, without starting a watch.
func (w *Watcher) Load(ctx context.Context) error {
	cm, err := w.client.CoreV1().ConfigMaps(w.namespace).Get(ctx, w.name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("discovery/k8s: get configmap %s/%s: %w", w.namespace, w.name, err)
	}
	raw, ok := cm.Data[w.dataKey]
	if !ok {
		return nil
	}
	return w.apply([]byte(raw))
}

// Run watches the ConfigMap until ctx is cancelled, applying every
// Added/Modified event that carries the watched data key. Each time the
// watch channel closes it restarts the underlying watch (the teacher's
// watchConfigMaps restart-on-close behavior); it returns only when ctx
// is cancelled or a watch cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := w.watchOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	watcher, err := w.client.CoreV1().ConfigMaps(w.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + w.name,
	})
	if err != nil {
		return fmt.Errorf("discovery/k8s: watch configmap %s/%s: %w", w.namespace, w.name, err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.ResultChan():
			if !ok {
				w.logger.Warn("configmap watcher closed, restarting", zap.String("name", w.name))
				return nil
			}
			if ev.Type != watch.Added && ev.Type != watch.Modified {
				continue
			}
			cm, ok := ev.Object.(*corev1.ConfigMap)
			if !ok {
				continue
			}
			raw, ok := cm.Data[w.dataKey]
			if !ok {
				continue
			}
			if err := w.apply([]byte(raw)); err != nil {
				w.logger.Warn("discarding malformed topology update", zap.String("name", w.name), zap.Error(err))
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

package k8s_test

import (
	"context"
	"encoding/json"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkit/shardkit/pkg/config"
	"github.com/shardkit/shardkit/pkg/discovery/k8s"
	"github.com/shardkit/shardkit/pkg/sharding"
)

func configMapWithSpec(t *testing.T, name, key string, spec config.ShardSetSpec) *corev1.ConfigMap {
	t.Helper()
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "shardkit"},
		Data:       map[string]string{key: string(raw)},
	}
}

func TestWatcherLoadAppliesCurrentSpecAndBumpsVersion(t *testing.T) {
	spec := config.ShardSetSpec{Shards: []config.ShardMemberSpec{{Id: "east", ReadEndpoint: "east-ro"}}}
	cm := configMapWithSpec(t, "topology", "shardkit.json", spec)
	client := fake.NewSimpleClientset(cm)

	var version sharding.ConfigVersion
	w := k8s.NewWatcherFromClient(client, "shardkit", "topology", "shardkit.json", &version, nil)

	require.NoError(t, w.Load(t.Context()))
	assert.Equal(t, spec, w.Current())
	assert.Equal(t, uint64(1), version.Load())
}

func TestWatcherLoadMissingKeyIsNoop(t *testing.T) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "topology", Namespace: "shardkit"},
		Data:       map[string]string{"unrelated.json": "{}"},
	}
	client := fake.NewSimpleClientset(cm)

	var version sharding.ConfigVersion
	w := k8s.NewWatcherFromClient(client, "shardkit", "topology", "shardkit.json", &version, nil)

	require.NoError(t, w.Load(t.Context()))
	assert.Equal(t, config.ShardSetSpec{}, w.Current())
	assert.Equal(t, uint64(0), version.Load())
}

func TestWatcherOnChangeFiresOnLoad(t *testing.T) {
	spec := config.ShardSetSpec{DefaultShard: "east"}
	cm := configMapWithSpec(t, "topology", "shardkit.json", spec)
	client := fake.NewSimpleClientset(cm)

	w := k8s.NewWatcherFromClient(client, "shardkit", "topology", "shardkit.json", nil, nil)

	var received config.ShardSetSpec
	w.OnChange(func(s config.ShardSetSpec) { received = s })

	require.NoError(t, w.Load(context.Background()))
	assert.Equal(t, spec, received)
}

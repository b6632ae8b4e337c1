package diagnostics_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkit/shardkit/internal/diagnostics"
	"github.com/shardkit/shardkit/pkg/sharding"
	"github.com/shardkit/shardkit/pkg/sqldriver/testdriver"
)

func newTestConnectionManager(t *testing.T) *sharding.ConnectionManager {
	t.Helper()
	driver := testdriver.New()
	ep := sharding.StaticEndpoint("orders-east", "default", "dsn://east")
	return sharding.NewConnectionManager(ep, driver, sharding.DefaultPolicy(), nil, nil)
}

func TestListShardsReturnsTopology(t *testing.T) {
	cm := newTestConnectionManager(t)
	ss := sharding.NewShardSet("orders", []sharding.ShardEntry{
		{Id: "east", Database: sharding.NewDatabase(cm, nil)},
	}, nil, nil, nil)

	srv := diagnostics.NewServer(map[string]*sharding.ShardSet{"orders": ss}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/shards", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "orders", views[0]["name"])
}

func TestShardBreakerReturns404ForUnknownShard(t *testing.T) {
	cm := newTestConnectionManager(t)
	ss := sharding.NewShardSet("orders", []sharding.ShardEntry{
		{Id: "east", Database: sharding.NewDatabase(cm, nil)},
	}, nil, nil, nil)

	srv := diagnostics.NewServer(map[string]*sharding.ShardSet{"orders": ss}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/shards/orders/west/breaker", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShardBreakerReturnsClosedByDefault(t *testing.T) {
	cm := newTestConnectionManager(t)
	ss := sharding.NewShardSet("orders", []sharding.ShardEntry{
		{Id: "east", Database: sharding.NewDatabase(cm, nil)},
	}, nil, nil, nil)

	srv := diagnostics.NewServer(map[string]*sharding.ShardSet{"orders": ss}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/shards/orders/east/breaker", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Closed", view["phase"])
}

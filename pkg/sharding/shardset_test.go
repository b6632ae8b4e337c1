package sharding_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkit/shardkit/pkg/sharding"
	"github.com/shardkit/shardkit/pkg/sqldriver/testdriver"
)

func rowHandler() sharding.ResultHandler[any, string] {
	return sharding.RowsHandler[any, string](func(rows sharding.RowStream) (string, error) {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		return v, nil
	})
}

func newTestShardSet(t *testing.T, shardRows map[sharding.ShardId][][]any) (*sharding.ShardSet, map[sharding.ShardId]*testdriver.Driver) {
	t.Helper()
	drivers := make(map[sharding.ShardId]*testdriver.Driver, len(shardRows))
	entries := make([]sharding.ShardEntry, 0, len(shardRows))

	ids := make([]string, 0, len(shardRows))
	for id := range shardRows {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	for _, raw := range ids {
		id := sharding.ShardId(raw)
		d := testdriver.New()
		d.Script("GetValue", testdriver.Outcome{
			Set: testdriver.ResultSet{Columns: []string{"v"}, Rows: shardRows[id]},
		})
		drivers[id] = d
		cm := newTestManager(t, d, sharding.DefaultPolicy())
		entries = append(entries, sharding.ShardEntry{Id: id, Database: sharding.NewDatabase(cm, nil)})
	}

	ss := sharding.NewShardSet("regions", entries, nil, nil, nil)
	return ss, drivers
}

func TestReadAllCollectsInShardOrder(t *testing.T) {
	ss, _ := newTestShardSet(t, map[sharding.ShardId][][]any{
		"a": {{"alpha"}},
		"b": {{"beta"}},
		"c": {{"gamma"}},
	})

	q := sharding.NewQuery("GetValue", "GetValue", sharding.CommandStatement)
	values, err := sharding.ReadAll[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), false, nil, sharding.DispatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, values)
}

func TestReadAllSkipsShardsWithNoResult(t *testing.T) {
	ss, _ := newTestShardSet(t, map[sharding.ShardId][][]any{
		"a": {{"alpha"}},
		"b": nil,
	})

	q := sharding.NewQuery("GetValue", "GetValue", sharding.CommandStatement)
	values, err := sharding.ReadAll[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), false, nil, sharding.DispatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, values)
}

func TestReadAllRestrictsToShardParameterValuesKeySet(t *testing.T) {
	ss, drivers := newTestShardSet(t, map[sharding.ShardId][][]any{
		"a": {{"alpha"}},
		"b": {{"beta"}},
	})

	q := sharding.NewQuery("GetValue", "GetValue", sharding.CommandStatement)
	opts := sharding.DispatchOptions{ShardValues: sharding.ShardParameterValues{"b": {"region": "east"}}}
	values, err := sharding.ReadAll[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), false, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, values)
	assert.Equal(t, 0, drivers["a"].Opens)
	assert.Equal(t, 1, drivers["b"].Opens)

	var region any
	for _, b := range drivers["b"].Bound {
		if b.Name == "region" {
			region = b.Value
		}
	}
	assert.Equal(t, "east", region)
}

func TestReadAllRejectsUnknownShard(t *testing.T) {
	ss, _ := newTestShardSet(t, map[sharding.ShardId][][]any{"a": {{"alpha"}}})

	q := sharding.NewQuery("GetValue", "GetValue", sharding.CommandStatement)
	opts := sharding.DispatchOptions{ShardValues: sharding.ShardParameterValues{"nope": nil}}
	_, err := sharding.ReadAll[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), false, nil, opts)
	require.Error(t, err)
	assert.Equal(t, sharding.KindUnknownShard, sharding.KindOf(err))
}

func TestReadFirstReturnsTheOnlyShardWithAResult(t *testing.T) {
	ss, _ := newTestShardSet(t, map[sharding.ShardId][][]any{
		"a": nil,
		"b": {{"beta"}},
	})

	q := sharding.NewQuery("GetValue", "GetValue", sharding.CommandStatement)
	v, ok, err := sharding.ReadFirst[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), true, nil, sharding.DispatchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "beta", v)
}

func TestReadFirstReturnsFalseWhenNoShardHasAResult(t *testing.T) {
	ss, _ := newTestShardSet(t, map[sharding.ShardId][][]any{
		"a": nil,
		"b": nil,
	})

	q := sharding.NewQuery("GetValue", "GetValue", sharding.CommandStatement)
	_, ok, err := sharding.ReadFirst[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), true, nil, sharding.DispatchOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteAllUsesWriteManager(t *testing.T) {
	readDriver := testdriver.New()
	writeDriver := testdriver.New()
	writeDriver.Script("Touch", testdriver.Outcome{Set: testdriver.ResultSet{Columns: []string{"v"}, Rows: [][]any{{"ok"}}}})

	readCM := newTestManager(t, readDriver, sharding.DefaultPolicy())
	writeCM := newTestManager(t, writeDriver, sharding.DefaultPolicy())
	db := sharding.NewDatabase(readCM, writeCM)

	ss := sharding.NewShardSet("one-shard", []sharding.ShardEntry{{Id: "a", Database: db}}, nil, nil, nil)
	q := sharding.NewQuery("Touch", "Touch", sharding.CommandStatement)

	values, err := sharding.WriteAll[any, string](context.Background(), ss, q, sharding.NewParameterSet(), rowHandler(), false, nil, sharding.DispatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, values)
	assert.Equal(t, 0, readDriver.Opens)
	assert.Equal(t, 1, writeDriver.Opens)
}

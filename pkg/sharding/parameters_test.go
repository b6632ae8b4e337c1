package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterSetSetPreservesOrderOnReplace(t *testing.T) {
	p := NewParameterSet().In("a", 1).In("b", 2).In("a", 99)

	assert.Equal(t, []string{"a", "b"}, p.Names())
	v, ok := p.Get("a")
	require.True(t, ok)
	assert.Equal(t, 99, v.Value)
}

func TestParameterSetCloneIsIndependent(t *testing.T) {
	base := NewParameterSet().In("a", 1)
	clone := base.Clone()
	clone.In("a", 2).In("b", 3)

	v, _ := base.Get("a")
	assert.Equal(t, 1, v.Value)
	assert.False(t, base.Has("b"))

	v, _ = clone.Get("a")
	assert.Equal(t, 2, v.Value)
	assert.True(t, clone.Has("b"))
}

func TestParameterSetWithOverrideDoesNotMutateBase(t *testing.T) {
	base := NewParameterSet().In("shard", "east")
	overridden := base.withOverride("shard", "west")

	v, _ := base.Get("shard")
	assert.Equal(t, "east", v.Value)
	v, _ = overridden.Get("shard")
	assert.Equal(t, "west", v.Value)
}

func TestParameterSetCheckDeclared(t *testing.T) {
	q := NewQuery("find", "SELECT 1", CommandStatement, "id")
	p := NewParameterSet()
	err := p.checkDeclared(q)
	require.Error(t, err)
	assert.Equal(t, KindParameterNotFound, kindOf(err))

	p.In("id", 7)
	assert.NoError(t, p.checkDeclared(q))
}

func TestQueryPanicsOnEmptyName(t *testing.T) {
	assert.Panics(t, func() {
		NewQuery("", "SELECT 1", CommandStatement)
	})
}

func TestQueryPanicsOnDuplicateDeclaredParam(t *testing.T) {
	assert.Panics(t, func() {
		NewQuery("q", "SELECT 1", CommandStatement, "id", "id")
	})
}

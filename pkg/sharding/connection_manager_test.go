package sharding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkit/shardkit/pkg/sharding"
	"github.com/shardkit/shardkit/pkg/sqldriver/testdriver"
)

func newTestManager(t *testing.T, driver *testdriver.Driver, policy sharding.Policy) *sharding.ConnectionManager {
	t.Helper()
	endpoint := sharding.StaticEndpoint("test-endpoint", "default", "dsn://test")
	return sharding.NewConnectionManager(endpoint, driver, policy, nil, nil)
}

func TestReturnScalarUsesOutputParameter(t *testing.T) {
	driver := testdriver.New()
	driver.Script("GetCount", testdriver.Outcome{
		Output: map[string]any{"count": 42},
	})
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	q := sharding.NewQuery("GetCount", "GetCount", sharding.CommandProcedure)
	n, err := sharding.ReturnScalar[int](context.Background(), cm, q, sharding.NewParameterSet(), "count", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestReturnScalarFallsBackToFirstColumn(t *testing.T) {
	driver := testdriver.New()
	driver.Script("GetOne", testdriver.Outcome{
		Set: testdriver.ResultSet{Columns: []string{"n"}, Rows: [][]any{{7}}},
	})
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	q := sharding.NewQuery("GetOne", "GetOne", sharding.CommandStatement)
	n, err := sharding.ReturnScalar[int](context.Background(), cm, q, sharding.NewParameterSet(), "missing", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestListBindsEveryRow(t *testing.T) {
	driver := testdriver.New()
	driver.Script("ListUsers", testdriver.Outcome{
		Set: testdriver.ResultSet{
			Columns: []string{"name"},
			Rows:    [][]any{{"alice"}, {"bob"}},
		},
	})
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	q := sharding.NewQuery("ListUsers", "ListUsers", sharding.CommandStatement)
	bind := func(rows sharding.RowStream) (string, error) {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		return name, nil
	}
	names, err := sharding.List[string](context.Background(), cm, q, sharding.NewParameterSet(), bind, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestRunEnvelopeRetriesOnRetryableVerdict(t *testing.T) {
	transient := errors.New("deadlock, try again")
	driver := testdriver.New()
	driver.Script("Upsert",
		testdriver.Outcome{Err: transient, Verdict: sharding.VerdictRetryable},
		testdriver.Outcome{NonQueryStatus: 1},
	)
	policy := sharding.DefaultPolicy()
	policy.RetryCount = 2
	policy.RetryInterval = time.Millisecond
	cm := newTestManager(t, driver, policy)

	q := sharding.NewQuery("Upsert", "Upsert", sharding.CommandProcedure)
	status, err := cm.Return(context.Background(), q, sharding.NewParameterSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, status)
	assert.Equal(t, 1, driver.Opens)
}

func TestRunEnvelopeOpensBreakerOnFatalAndFailure(t *testing.T) {
	fatal := errors.New("connection refused")
	driver := testdriver.New()
	driver.Script("Ping",
		testdriver.Outcome{Err: fatal, Verdict: sharding.VerdictFatalAndFailure},
	)
	policy := sharding.DefaultPolicy()
	policy.BreakerFailureCount = 1
	policy.BreakerTestInterval = time.Hour
	cm := newTestManager(t, driver, policy)

	q := sharding.NewQuery("Ping", "Ping", sharding.CommandProcedure)
	_, err := cm.Return(context.Background(), q, sharding.NewParameterSet(), nil)
	require.Error(t, err)
	assert.Equal(t, sharding.KindFatalAndFailure, sharding.KindOf(err))

	phase, _, _ := cm.BreakerPhase()
	assert.Equal(t, sharding.BreakerOpen, phase)

	_, err = cm.Return(context.Background(), q, sharding.NewParameterSet(), nil)
	require.Error(t, err)
	assert.True(t, sharding.IsCircuitOpen(err))
}

func TestParameterNotFoundNeverOpensConnection(t *testing.T) {
	driver := testdriver.New()
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	q := sharding.NewQuery("Find", "Find", sharding.CommandProcedure, "id")
	_, err := cm.Return(context.Background(), q, sharding.NewParameterSet(), nil)
	require.Error(t, err)
	assert.Equal(t, sharding.KindParameterNotFound, sharding.KindOf(err))
	assert.Equal(t, 0, driver.Opens)
}

func TestMockBypassSkipsConnection(t *testing.T) {
	driver := testdriver.New()
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	q := sharding.NewQuery("Find", "Find", sharding.CommandProcedure)
	mocks := sharding.MockResults{"Find": 99}
	n, err := sharding.ReturnScalar[int](context.Background(), cm, q, sharding.NewParameterSet(), "n", mocks)
	require.NoError(t, err)
	assert.Equal(t, 99, n)
	assert.Equal(t, 0, driver.Opens)
}

func TestMockTypeMismatch(t *testing.T) {
	driver := testdriver.New()
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	q := sharding.NewQuery("Find", "Find", sharding.CommandProcedure)
	mocks := sharding.MockResults{"Find": "not-an-int"}
	_, err := sharding.ReturnScalar[int](context.Background(), cm, q, sharding.NewParameterSet(), "n", mocks)
	require.Error(t, err)
	assert.Equal(t, sharding.KindMockTypeMismatch, sharding.KindOf(err))
}

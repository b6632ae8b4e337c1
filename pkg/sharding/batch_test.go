package sharding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkit/shardkit/pkg/sharding"
	"github.com/shardkit/shardkit/pkg/sqldriver/testdriver"
)

func TestRunBatchCommitsAndReturnsProjectedStep(t *testing.T) {
	driver := testdriver.New()
	driver.Script("DebitAccount", testdriver.Outcome{NonQueryStatus: 1})
	driver.Script("CreditAccount", testdriver.Outcome{
		Set: testdriver.ResultSet{Columns: []string{"id"}, Rows: [][]any{{"txn-1"}}},
	})
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	batch := sharding.Batch{
		Steps: []sharding.Step{
			{
				Query:  sharding.NewQuery("DebitAccount", "DebitAccount", sharding.CommandProcedure),
				Params: sharding.NewParameterSet().In("amount", 10),
			},
			{
				Query:  sharding.NewQuery("CreditAccount", "CreditAccount", sharding.CommandProcedure),
				Params: sharding.NewParameterSet().In("amount", 10),
				Project: func(_ context.Context, rows sharding.RowStream, _ sharding.OutputParameters) (any, error) {
					rows.Next()
					var id string
					if err := rows.Scan(&id); err != nil {
						return nil, err
					}
					return id, nil
				},
			},
		},
	}

	result, err := sharding.RunBatch[string](context.Background(), cm, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", result)

	require.Len(t, driver.Txns, 1)
	assert.True(t, driver.Txns[0].Committed)
	assert.False(t, driver.Txns[0].RolledBack)
}

func TestRunBatchRollsBackOnStepFailure(t *testing.T) {
	failure := errors.New("constraint violation")
	driver := testdriver.New()
	driver.Script("DebitAccount", testdriver.Outcome{Err: failure, Verdict: sharding.VerdictFatalAndFailure})
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	batch := sharding.Batch{
		Steps: []sharding.Step{
			{
				Query:  sharding.NewQuery("DebitAccount", "DebitAccount", sharding.CommandProcedure),
				Params: sharding.NewParameterSet().In("amount", 10),
			},
		},
	}

	_, err := sharding.RunBatch[string](context.Background(), cm, batch, nil)
	require.Error(t, err)
	assert.Equal(t, sharding.KindFatalAndFailure, sharding.KindOf(err))

	require.Len(t, driver.Txns, 1)
	assert.True(t, driver.Txns[0].RolledBack)

	phase, _, _ := cm.BreakerPhase()
	assert.Equal(t, sharding.BreakerClosed, phase, "DefaultPolicy's BreakerFailureCount of 0 disables the breaker")
}

func TestRunBatchMockBypassSkipsConnection(t *testing.T) {
	driver := testdriver.New()
	cm := newTestManager(t, driver, sharding.DefaultPolicy())

	batch := sharding.Batch{Steps: []sharding.Step{
		{Query: sharding.NewQuery("Noop", "Noop", sharding.CommandProcedure), Params: sharding.NewParameterSet()},
	}}

	result, err := sharding.RunBatch[string](context.Background(), cm, batch, sharding.MockResults{"": "mocked"})
	require.NoError(t, err)
	assert.Equal(t, "mocked", result)
	assert.Equal(t, 0, driver.Opens)
}

package sharding

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step is one operation inside a Batch transaction (spec.md §3/§4.5).
type Step struct {
	Query  Query
	Params *ParameterSet
	// Project, if set, marks this as the "result step": it runs after
	// the step's command executes and its return value is retained as
	// the batch's final result. At most one Step in a Batch should set
	// this.
	Project func(ctx context.Context, rows RowStream, output OutputParameters) (any, error)
}

// Batch is an ordered sequence of steps executed within a single
// transaction on one connection (spec.md §3/§4.5).
type Batch struct {
	Steps []Step
}

// RunBatch executes batch within a single transaction on a connection
// obtained from cm, in declaration order, retaining the designated
// result step's projected value (spec.md §4.5, §8 invariant 6).
//
// Mock bypass: RunBatch first checks mocks[""] — the empty key reserved
// for batch-level mocking (spec.md §4.2) — and returns it directly,
// type-checked against R, without opening a connection.
func RunBatch[R any](ctx context.Context, cm *ConnectionManager, batch Batch, mocks MockResults) (R, error) {
	var zero R
	if v, hit, err := checkMock[R](mocks, ""); hit {
		return v, err
	}

	if err := ctxErr(ctx); err != nil {
		return zero, err
	}

	runID := uuid.New().String()
	logger := cm.logger.With(zap.String("batch_run_id", runID))

	connString, err := cm.endpoint.ConnectionString(ctx)
	if err != nil {
		return zero, wrapError(KindFatalForCommand, "failed to resolve connection string", err)
	}
	conn, err := cm.driver.OpenConnection(ctx, connString)
	if err != nil {
		return zero, wrapError(cm.driver.ClassifyError(err).toKind(), "failed to open connection for batch", err)
	}
	defer conn.Close()

	tx, err := cm.driver.BeginTransaction(ctx, conn)
	if err != nil {
		return zero, wrapError(KindFatalForCommand, "failed to begin transaction", err)
	}

	result, runErr := runBatchSteps[R](ctx, cm, tx, batch)
	if runErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warn("batch rollback failed", zap.Error(rbErr))
		}
		if se, ok := runErr.(*ShardError); ok && se.Kind == KindFatalAndFailure {
			cm.breaker.recordFailure()
		}
		return zero, runErr
	}

	if err := tx.Commit(); err != nil {
		return zero, wrapError(KindFatalForCommand, "failed to commit batch", err)
	}
	logger.Debug("batch committed", zap.Int("steps", len(batch.Steps)))
	return result, nil
}

func runBatchSteps[R any](ctx context.Context, cm *ConnectionManager, tx Transaction, batch Batch) (R, error) {
	var zero R
	var result R
	haveResult := false

	for i, step := range batch.Steps {
		if err := ctxErr(ctx); err != nil {
			return zero, err.(*ShardError).withStep(i)
		}
		if err := step.Params.checkDeclared(step.Query); err != nil {
			return zero, err.(*ShardError).withStep(i)
		}

		cmd, err := cm.driver.BuildCommandTx(tx, step.Query.Text(), step.Query.Kind())
		if err != nil {
			return zero, wrapError(KindFatalForCommand, "failed to build batch step command", err).withStep(i)
		}
		if err := bindAll(cm.driver, cmd, step.Query, step.Params); err != nil {
			return zero, err.(*ShardError).withStep(i)
		}

		if step.Project != nil {
			rows, output, err := cm.driver.ExecuteReader(ctx, cmd)
			if err != nil {
				return zero, wrapError(cm.driver.ClassifyError(err).toKind(), "batch step failed", err).withStep(i)
			}
			v, err := step.Project(ctx, rows, output)
			rows.Close()
			if err != nil {
				return zero, wrapError(KindFatalForCommand, "batch result projection failed", err).withStep(i)
			}
			typed, ok := v.(R)
			if !ok {
				return zero, ErrMockTypeMismatch(step.Query.Name()).withStep(i)
			}
			result = typed
			haveResult = true
			continue
		}

		if _, err := cm.driver.ExecuteNonQuery(ctx, cmd); err != nil {
			return zero, wrapError(cm.driver.ClassifyError(err).toKind(), "batch step failed", err).withStep(i)
		}
	}

	if !haveResult {
		return zero, nil
	}
	return result, nil
}

// toKind maps a driver Verdict onto the closest ShardError Kind for
// error surfaces that do not go through the retry envelope (batch steps
// run once each, per spec.md §4.5 — a batch never retries a step).
func (v Verdict) toKind() Kind {
	switch v {
	case VerdictCancelled:
		return KindCancelled
	case VerdictFatalAndFailure:
		return KindFatalAndFailure
	case VerdictRetryable:
		return KindFatalForCommand
	default:
		return KindFatalForCommand
	}
}

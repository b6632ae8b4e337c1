package sharding

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ConnectionManager owns one logical endpoint: an Endpoint, a Policy, and
// the breaker state built from it. It is the sole place retry and
// circuit-breaker behavior live (spec.md §4.2).
type ConnectionManager struct {
	endpoint Endpoint
	driver   Driver
	policy   Policy
	breaker  *breakerState
	logger   *zap.Logger
	recorder Recorder
	sleep    func(context.Context, time.Duration) error
}

// NewConnectionManager builds a ConnectionManager for one endpoint. A nil
// logger is replaced with a no-op logger; a nil recorder with NopRecorder.
func NewConnectionManager(endpoint Endpoint, driver Driver, policy Policy, logger *zap.Logger, recorder Recorder) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder
	}
	return &ConnectionManager{
		endpoint: endpoint,
		driver:   driver,
		policy:   policy,
		breaker:  newBreakerState(policy.BreakerFailureCount, policy.BreakerTestInterval),
		logger:   logger,
		recorder: recorder,
		sleep:    ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctxErr(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled(err)
	}
	return nil
}

// BreakerPhase reports the manager's current breaker phase, for
// diagnostics surfaces.
func (cm *ConnectionManager) BreakerPhase() (BreakerPhase, int, time.Time) {
	return cm.breaker.snapshot()
}

// Description returns the endpoint description, for diagnostics and
// metrics labels.
func (cm *ConnectionManager) Description() string {
	return cm.endpoint.Description
}

// Return executes a Query without materializing a result set and
// returns an integer status (spec.md §4.2).
func (cm *ConnectionManager) Return(ctx context.Context, q Query, params *ParameterSet, mocks MockResults) (int, error) {
	if v, hit, err := checkMock[int](mocks, q.Name()); hit {
		return v, err
	}
	return runEnvelope(ctx, cm, q, params, func(ctx context.Context, cmd Command) (int, error) {
		return cm.driver.ExecuteNonQuery(ctx, cmd)
	})
}

// Run executes a Query for side effects only, discarding the status
// (spec.md §4.2).
func (cm *ConnectionManager) Run(ctx context.Context, q Query, params *ParameterSet, mocks MockResults) error {
	_, err := cm.Return(ctx, q, params, mocks)
	return err
}

// ReturnScalar executes a Query and returns a single named output
// parameter, falling back to the first row's first column when dataName
// names no output parameter (spec.md §4.2).
func ReturnScalar[T any](ctx context.Context, cm *ConnectionManager, q Query, params *ParameterSet, dataName string, mocks MockResults) (T, error) {
	if v, hit, err := checkMock[T](mocks, q.Name()); hit {
		return v, err
	}
	return runEnvelope(ctx, cm, q, params, func(ctx context.Context, cmd Command) (T, error) {
		var zero T
		rows, output, err := cm.driver.ExecuteReader(ctx, cmd)
		if err != nil {
			return zero, err
		}
		defer rows.Close()

		if output != nil {
			if raw, ok := output.Value(dataName); ok {
				if v, ok := raw.(T); ok {
					return v, rows.Err()
				}
				return zero, ErrNoMappingAttributesFound(dataName)
			}
		}
		if rows.Next() {
			var v T
			if err := rows.Scan(&v); err != nil {
				return zero, err
			}
			return v, nil
		}
		return zero, rows.Err()
	})
}

// List executes a Query and binds every row via bind into a homogeneous
// slice (spec.md §4.2, §9: the single List[T] primitive the
// ShardKey/ShardChild APIs collapse onto).
func List[T any](ctx context.Context, cm *ConnectionManager, q Query, params *ParameterSet, bind RowBinder[T], mocks MockResults) ([]T, error) {
	if v, hit, err := checkMock[[]T](mocks, q.Name()); hit {
		return v, err
	}
	return runEnvelope(ctx, cm, q, params, func(ctx context.Context, cmd Command) ([]T, error) {
		rows, _, err := cm.driver.ExecuteReader(ctx, cmd)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		result := make([]T, 0)
		for rows.Next() {
			v, err := bind(rows)
			if err != nil {
				return nil, err
			}
			result = append(result, v)
		}
		return result, rows.Err()
	})
}

// Handle executes a Query and hands the row stream and output
// parameters to handler, per spec.md §4.3/§4.2. isTopOne is accepted
// but not consulted: whatever its value, the stream is closed as soon
// as handler returns, without draining any remaining rows.
func Handle[Arg any, Model any](ctx context.Context, cm *ConnectionManager, q Query, params *ParameterSet, shardID ShardId, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, mocks MockResults) (Model, bool, error) {
	if v, hit, err := checkMock[Model](mocks, q.Name()); hit {
		return v, true, err
	}
	model, err := runEnvelope(ctx, cm, q, params, func(ctx context.Context, cmd Command) (modelResult[Model], error) {
		rows, output, err := cm.driver.ExecuteReader(ctx, cmd)
		if err != nil {
			var zero Model
			return modelResult[Model]{zero, false}, err
		}
		defer rows.Close()

		v, ok, err := handler(shardID, rows, output, arg)
		return modelResult[Model]{v, ok}, err
	})
	return model.value, model.ok, err
}

type modelResult[Model any] struct {
	value Model
	ok    bool
}

// runEnvelope is the execution envelope shared by every operation above:
// parameter declaration check, breaker admission, attempt loop with
// back-off, breaker bookkeeping, and guaranteed resource release
// (spec.md §4.2, §8 invariant 1 and 3).
func runEnvelope[T any](ctx context.Context, cm *ConnectionManager, q Query, params *ParameterSet, exec func(ctx context.Context, cmd Command) (T, error)) (T, error) {
	var zero T

	if err := params.checkDeclared(q); err != nil {
		return zero, err
	}

	if phase, ok := cm.breaker.admit(); !ok {
		cm.recorder.ObserveBreakerPhase(cm.endpoint.Description, phase)
		return zero, ErrCircuitOpen(cm.endpoint.Description)
	}

	var conn Connection
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	wasHalfOpen := func() bool {
		phase, _, _ := cm.breaker.snapshot()
		return phase == BreakerHalfOpen
	}

	attempts := cm.policy.RetryCount + 1
	for n := 1; n <= attempts; n++ {
		if err := ctxErr(ctx); err != nil {
			return zero, err
		}

		if conn == nil {
			connString, err := cm.endpoint.ConnectionString(ctx)
			if err != nil {
				return zero, wrapError(KindFatalForCommand, "failed to resolve connection string", err)
			}
			c, err := cm.driver.OpenConnection(ctx, connString)
			if err != nil {
				verdict := cm.driver.ClassifyError(err)
				cm.recorder.IncAttempt(cm.endpoint.Description, "open-error")
				done, retry, rerr := cm.handleVerdict(ctx, verdict, n, err)
				if done {
					return zero, rerr
				}
				if retry {
					continue
				}
			}
			conn = c
		}

		cmd, err := cm.driver.BuildCommand(conn, q.Text(), q.Kind())
		if err != nil {
			return zero, wrapError(KindFatalForCommand, "failed to build command", err)
		}
		if err := bindAll(cm.driver, cmd, q, params); err != nil {
			return zero, err
		}

		value, err := exec(ctx, cmd)
		if err == nil {
			cm.recorder.IncAttempt(cm.endpoint.Description, "success")
			if wasHalfOpen() {
				cm.breaker.recordSuccess()
				cm.recorder.ObserveBreakerPhase(cm.endpoint.Description, BreakerClosed)
			}
			return value, nil
		}

		verdict := cm.driver.ClassifyError(err)
		cm.recorder.IncAttempt(cm.endpoint.Description, "exec-error")
		if done, _, rerr := cm.handleVerdict(ctx, verdict, n, err); done {
			return zero, rerr
		}
	}
	return zero, wrapError(KindFatalForCommand, "retry count exhausted", nil)
}

// handleVerdict applies a classified driver error. done=true means the
// caller should return rerr immediately; done=false with result=true
// means the caller should retry (back-off already applied).
func (cm *ConnectionManager) handleVerdict(ctx context.Context, verdict Verdict, attempt int, sourceErr error) (done bool, result bool, rerr error) {
	switch verdict {
	case VerdictCancelled:
		return true, false, ErrCancelled(sourceErr)
	case VerdictRetryable:
		if attempt > cm.policy.RetryCount {
			return true, false, wrapError(KindRetryable, "retry count exhausted", sourceErr)
		}
		cm.recorder.IncRetry(cm.endpoint.Description)
		delay := cm.policy.Delay(attempt)
		if err := cm.sleep(ctx, delay); err != nil {
			return true, false, err
		}
		return false, true, nil
	case VerdictFatalForCommand:
		return true, false, wrapError(KindFatalForCommand, "fatal for command", sourceErr)
	case VerdictFatalAndFailure:
		cm.breaker.recordFailure()
		phase, _, _ := cm.breaker.snapshot()
		cm.recorder.ObserveBreakerPhase(cm.endpoint.Description, phase)
		return true, false, wrapError(KindFatalAndFailure, "fatal, breaker incremented", sourceErr)
	default:
		return true, false, wrapError(KindFatalForCommand, "unclassified driver error", sourceErr)
	}
}

func bindAll(driver Driver, cmd Command, q Query, params *ParameterSet) error {
	for _, p := range params.All() {
		if len(q.declared) > 0 && !q.declares(p.Name) {
			continue
		}
		if err := driver.BindParameter(cmd, p.Name, p.Value, p.Direction, p.TypeHint); err != nil {
			return wrapError(KindFatalForCommand, "failed to bind parameter "+p.Name, err)
		}
	}
	return nil
}

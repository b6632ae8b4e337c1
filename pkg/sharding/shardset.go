package sharding

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShardEntry is one (ShardId, Database) pair supplied when building a
// ShardSet, in the order the set should iterate.
type ShardEntry struct {
	Id       ShardId
	Database Database
}

// ShardParameterValues carries per-shard parameter overrides and, when
// supplied to a dispatcher, also selects the target shard subset
// (spec.md §4.4).
type ShardParameterValues map[ShardId]map[string]any

// ShardSet is an ordered map from ShardId to Database (spec.md §3),
// immutable after construction, with ReadAll/ReadFirst/WriteAll on top.
type ShardSet struct {
	name         string
	order        []ShardId
	databases    map[ShardId]Database
	defaultShard *ShardId
	logger       *zap.Logger
	recorder     Recorder
}

// NewShardSet builds an immutable, ordered shard set. Panics on a
// duplicate ShardId — a caller programming error, not a runtime
// condition spec.md asks the engine to classify.
func NewShardSet(name string, entries []ShardEntry, defaultShard *ShardId, logger *zap.Logger, recorder Recorder) *ShardSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder
	}
	order := make([]ShardId, 0, len(entries))
	databases := make(map[ShardId]Database, len(entries))
	for _, e := range entries {
		if _, dup := databases[e.Id]; dup {
			panic("sharding: duplicate ShardId in shard set: " + string(e.Id))
		}
		databases[e.Id] = e.Database
		order = append(order, e.Id)
	}
	return &ShardSet{
		name:         name,
		order:        order,
		databases:    databases,
		defaultShard: defaultShard,
		logger:       logger,
		recorder:     recorder,
	}
}

// Name returns the shard set's configured name.
func (ss *ShardSet) Name() string { return ss.name }

// Shards returns the shard ids in iteration order.
func (ss *ShardSet) Shards() []ShardId {
	return append([]ShardId(nil), ss.order...)
}

// Database returns the Database for a shard id, if present.
func (ss *ShardSet) Database(id ShardId) (Database, bool) {
	db, ok := ss.databases[id]
	return db, ok
}

// DefaultShard returns the configured default shard, if any.
func (ss *ShardSet) DefaultShard() (ShardId, bool) {
	if ss.defaultShard == nil {
		var zero ShardId
		return zero, false
	}
	return *ss.defaultShard, true
}

// resolveTargets computes the target shard subset in shard-iteration
// order, per spec.md §4.4: the key set of shardValues when supplied
// (validated against membership), else every shard.
func (ss *ShardSet) resolveTargets(shardValues ShardParameterValues) ([]ShardId, error) {
	if shardValues == nil {
		return ss.order, nil
	}
	for id := range shardValues {
		if _, ok := ss.databases[id]; !ok {
			return nil, ErrUnknownShard(string(id))
		}
	}
	targets := make([]ShardId, 0, len(shardValues))
	for _, id := range ss.order {
		if _, ok := shardValues[id]; ok {
			targets = append(targets, id)
		}
	}
	return targets, nil
}

// buildParams clones the caller's base ParameterSet and applies the
// per-shard override map plus, when shardParamName is non-empty, the
// shard's own identifier — never mutating base (spec.md §4.4/§5, §8
// invariant 5).
func (ss *ShardSet) buildParams(base *ParameterSet, id ShardId, shardValues ShardParameterValues, shardParamName string) *ParameterSet {
	p := base.Clone()
	if shardValues != nil {
		for name, value := range shardValues[id] {
			p = p.withOverride(name, value)
		}
	}
	if shardParamName != "" {
		p = p.withOverride(shardParamName, string(id))
	}
	return p
}

// DispatchOptions bundles the optional per-shard routing inputs shared
// by all three dispatchers.
type DispatchOptions struct {
	ShardValues    ShardParameterValues
	ShardParamName string
	Mocks          MockResults
}

// ReadAll submits q to every target shard's Read Connection Manager and
// collects non-None handler results in shard-iteration order (spec.md
// §4.4, §8 invariant 2).
func ReadAll[Arg any, Model any](ctx context.Context, ss *ShardSet, q Query, params *ParameterSet, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, opts DispatchOptions) ([]Model, error) {
	return dispatchAll(ctx, ss, "ReadAll", func(db Database) *ConnectionManager { return db.Read }, q, params, handler, isTopOne, arg, opts)
}

// WriteAll submits q to every target shard's Write Connection Manager.
// Semantics otherwise identical to ReadAll (spec.md §4.4).
func WriteAll[Arg any, Model any](ctx context.Context, ss *ShardSet, q Query, params *ParameterSet, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, opts DispatchOptions) ([]Model, error) {
	return dispatchAll(ctx, ss, "WriteAll", func(db Database) *ConnectionManager { return db.Write }, q, params, handler, isTopOne, arg, opts)
}

func dispatchAll[Arg any, Model any](ctx context.Context, ss *ShardSet, mode string, pick func(Database) *ConnectionManager, q Query, params *ParameterSet, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, opts DispatchOptions) ([]Model, error) {
	targets, err := ss.resolveTargets(opts.ShardValues)
	if err != nil {
		return nil, err
	}

	results := make([]Model, len(targets))
	present := make([]bool, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for idx, sid := range targets {
		idx, sid := idx, sid
		g.Go(func() error {
			p := ss.buildParams(params, sid, opts.ShardValues, opts.ShardParamName)
			cm := pick(ss.databases[sid])
			v, ok, err := Handle(gctx, cm, q, p, sid, handler, isTopOne, arg, opts.Mocks)
			ss.recorder.ObserveDispatch(ss.name, mode, string(sid), err)
			if err != nil {
				return err
			}
			if ok {
				results[idx] = v
				present[idx] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Model, 0, len(targets))
	for i, ok := range present {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, nil
}

type firstOutcome[Model any] struct {
	idx   int
	value Model
	ok    bool
	err   error
}

// ReadFirst submits q to every target shard's Read Connection Manager
// concurrently and returns as soon as any shard's handler returns a
// non-None value, cancelling the rest. Ties are broken by
// shard-iteration order; failures on shards other than the winner are
// suppressed and logged (spec.md §4.4, §7, §8 S3).
func ReadFirst[Arg any, Model any](ctx context.Context, ss *ShardSet, q Query, params *ParameterSet, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, opts DispatchOptions) (Model, bool, error) {
	var zero Model
	targets, err := ss.resolveTargets(opts.ShardValues)
	if err != nil {
		return zero, false, err
	}
	if len(targets) == 0 {
		return zero, false, nil
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan firstOutcome[Model], len(targets))
	var wg sync.WaitGroup
	for idx, sid := range targets {
		idx, sid := idx, sid
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := ss.buildParams(params, sid, opts.ShardValues, opts.ShardParamName)
			cm := ss.databases[sid].Read
			v, ok, err := Handle(cctx, cm, q, p, sid, handler, isTopOne, arg, opts.Mocks)
			select {
			case resultCh <- firstOutcome[Model]{idx, v, ok, err}:
			case <-cctx.Done():
				select {
				case resultCh <- firstOutcome[Model]{idx, v, ok, err}:
				default:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var firstErr error
	remaining := len(targets)

	for remaining > 0 {
		select {
		case o, open := <-resultCh:
			if !open {
				remaining = 0
				continue
			}
			batch := []firstOutcome[Model]{o}
			remaining--
		drain:
			for remaining > 0 {
				select {
				case o2, open2 := <-resultCh:
					if !open2 {
						remaining = 0
						break drain
					}
					batch = append(batch, o2)
					remaining--
				default:
					break drain
				}
			}

			var winner *firstOutcome[Model]
			for i := range batch {
				b := &batch[i]
				if b.err != nil {
					if !IsCancelledErr(b.err) {
						if firstErr == nil {
							firstErr = b.err
						}
						ss.logger.Warn("shard dispatch failed after ReadFirst resolution window",
							zap.String("shard", string(targets[b.idx])), zap.Error(b.err))
					}
					continue
				}
				if b.ok && (winner == nil || b.idx < winner.idx) {
					winner = b
				}
			}
			if winner != nil {
				cancel()
				return winner.value, true, nil
			}
		case <-ctx.Done():
			cancel()
			return zero, false, ErrCancelled(ctx.Err())
		}
	}

	if firstErr != nil {
		return zero, false, firstErr
	}
	return zero, false, nil
}

// IsCancelledErr reports whether err is the *ShardError produced by this
// package's own cancellation path — used to avoid logging noise for
// siblings cancelled by a ReadFirst winner.
func IsCancelledErr(err error) bool {
	return kindOf(err) == KindCancelled
}

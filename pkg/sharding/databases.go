package sharding

import (
	"context"

	"go.uber.org/zap"
)

// DatabaseEntry is one (name, Database) pair supplied when building a
// Databases collection, in the order the collection should iterate.
type DatabaseEntry struct {
	Name     string
	Database Database
}

// Databases is a non-sharded, ordered map from database name to Database
// (spec.md §4.6): for callers that do not need shard fan-out but still
// want the Connection Manager's resilience envelope and the Query/
// ParameterSet/ResultHandler model. Immutable after construction;
// lookup by name, iteration in configured order.
type Databases struct {
	order     []string
	databases map[string]Database
	logger    *zap.Logger
	recorder  Recorder
}

// NewDatabases builds an immutable, ordered Databases collection. Panics
// on a duplicate name — a caller programming error, not a runtime
// condition spec.md asks the engine to classify.
func NewDatabases(entries []DatabaseEntry, logger *zap.Logger, recorder Recorder) *Databases {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder
	}
	order := make([]string, 0, len(entries))
	databases := make(map[string]Database, len(entries))
	for _, e := range entries {
		if _, dup := databases[e.Name]; dup {
			panic("sharding: duplicate database name in Databases: " + e.Name)
		}
		databases[e.Name] = e.Database
		order = append(order, e.Name)
	}
	return &Databases{order: order, databases: databases, logger: logger, recorder: recorder}
}

// Names returns the database names in iteration order.
func (d *Databases) Names() []string {
	return append([]string(nil), d.order...)
}

// Database returns the named Database, if present.
func (d *Databases) Database(name string) (Database, bool) {
	db, ok := d.databases[name]
	return db, ok
}

// Read submits q against the named database's Read Connection Manager
// and runs it through handler — the same operation surface one
// ShardSet entry exposes through ReadAll, minus fan-out: a single
// named target instead of a resolved shard subset (spec.md §4.6).
func Read[Arg any, Model any](ctx context.Context, dbs *Databases, name string, q Query, params *ParameterSet, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, mocks MockResults) (Model, bool, error) {
	var zero Model
	db, ok := dbs.databases[name]
	if !ok {
		return zero, false, ErrUnknownShard(name)
	}
	v, present, err := Handle(ctx, db.Read, q, params, ShardId(name), handler, isTopOne, arg, mocks)
	dbs.recorder.ObserveDispatch("databases", "Read", name, err)
	if err != nil {
		return zero, false, err
	}
	return v, present, nil
}

// Write submits q against the named database's Write Connection
// Manager. Semantics otherwise identical to Read (spec.md §4.6).
func Write[Arg any, Model any](ctx context.Context, dbs *Databases, name string, q Query, params *ParameterSet, handler ResultHandler[Arg, Model], isTopOne bool, arg Arg, mocks MockResults) (Model, bool, error) {
	var zero Model
	db, ok := dbs.databases[name]
	if !ok {
		return zero, false, ErrUnknownShard(name)
	}
	v, present, err := Handle(ctx, db.Write, q, params, ShardId(name), handler, isTopOne, arg, mocks)
	dbs.recorder.ObserveDispatch("databases", "Write", name, err)
	if err != nil {
		return zero, false, err
	}
	return v, present, nil
}

// RunBatchOn runs batch on the named database's Write Connection Manager.
func RunBatchOn[R any](ctx context.Context, dbs *Databases, name string, batch Batch, mocks MockResults) (R, error) {
	var zero R
	db, ok := dbs.databases[name]
	if !ok {
		return zero, ErrUnknownShard(name)
	}
	return RunBatch[R](ctx, db.Write, batch, mocks)
}

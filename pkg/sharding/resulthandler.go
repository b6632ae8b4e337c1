package sharding

// ResultHandler converts one wire-level result (row stream + output
// parameters) into a typed value. Handlers must be stateless and safe to
// invoke concurrently on distinct inputs (spec.md §4.3). The bool return
// is the "no result" sentinel: false means the shard contributed nothing
// (ReadAll skips it, ReadFirst does not consider it a winner).
type ResultHandler[Arg any, Model any] func(shardID ShardId, rows RowStream, output OutputParameters, arg Arg) (Model, bool, error)

// RowBinder is the opaque, externally-supplied capability that binds one
// row's columns to a Model instance. Attribute-driven mapping code
// generation is out of scope for this package (spec.md §1) — callers
// supply their own binder, generated or hand-written.
type RowBinder[Model any] func(rows RowStream) (Model, error)

// AuxBinder binds an auxiliary row set onto an already-bound Model,
// typically appending to a list-typed field.
type AuxBinder[Model any] func(model *Model, rows RowStream) error

// RowsHandler builds a ResultHandler that binds row 0 to a Model via
// bind, then feeds any additional declared result sets to the
// corresponding entry in aux, in order. Arity — how many result sets this
// handler consumes — is a property of len(aux), never an overload on the
// engine (spec.md §9).
func RowsHandler[Arg any, Model any](bind RowBinder[Model], aux ...AuxBinder[Model]) ResultHandler[Arg, Model] {
	return func(shardID ShardId, rows RowStream, output OutputParameters, arg Arg) (Model, bool, error) {
		var zero Model
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return zero, false, err
			}
			return zero, false, nil
		}
		model, err := bind(rows)
		if err != nil {
			return zero, false, err
		}
		for _, bindAux := range aux {
			if !rows.NextResultSet() {
				break
			}
			if err := bindAux(&model, rows); err != nil {
				return zero, false, err
			}
		}
		return model, true, nil
	}
}

// OutputBinder builds a Model purely from output parameters.
type OutputBinder[Model any] func(output OutputParameters) (Model, bool, error)

// OutputHandler builds a ResultHandler that ignores the row stream
// entirely and binds Model from output parameters (spec.md §4.3).
func OutputHandler[Arg any, Model any](bind OutputBinder[Model]) ResultHandler[Arg, Model] {
	return func(shardID ShardId, rows RowStream, output OutputParameters, arg Arg) (Model, bool, error) {
		return bind(output)
	}
}

// CombinedHandler builds a ResultHandler that binds Model from output
// parameters, then feeds row sets to aux list-member binders (spec.md
// §4.3's third built-in shape).
func CombinedHandler[Arg any, Model any](bindOutput OutputBinder[Model], aux ...AuxBinder[Model]) ResultHandler[Arg, Model] {
	return func(shardID ShardId, rows RowStream, output OutputParameters, arg Arg) (Model, bool, error) {
		model, ok, err := bindOutput(output)
		if err != nil || !ok {
			return model, ok, err
		}
		for i, bindAux := range aux {
			if i > 0 && !rows.NextResultSet() {
				break
			}
			if err := bindAux(&model, rows); err != nil {
				return model, false, err
			}
		}
		return model, true, nil
	}
}

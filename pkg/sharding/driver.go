package sharding

import "context"

// Kind of command a Query represents.
type CommandKind int

const (
	CommandStatement CommandKind = iota
	CommandProcedure
)

// Direction of a bound parameter.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
	DirectionInOut
	DirectionReturnValue
)

// Verdict is the only vocabulary a Driver uses to tell the engine how to
// react to an error. See spec.md §6/§7.
type Verdict int

const (
	VerdictRetryable Verdict = iota
	VerdictFatalForCommand
	VerdictFatalAndFailure
	VerdictCancelled
)

// Connection is an open, vendor-specific connection handle. It carries
// no behavior the engine inspects directly; Driver methods take it back
// to build and run commands against it.
type Connection interface {
	Close() error
}

// Command is a vendor-specific prepared command bound to one Connection.
type Command interface{}

// Transaction is a vendor-specific transaction handle bound to one
// Connection.
type Transaction interface {
	Commit() error
	Rollback() error
}

// RowStream is the wire-level row cursor a ResultHandler consumes. One
// RowStream may expose more than one result set (auxiliary row sets for
// list-typed Model members); NextResultSet advances to the next one and
// reports false when none remain.
type RowStream interface {
	// Next advances to the next row in the current result set.
	Next() bool
	// Scan copies the current row's columns into dest, in column order.
	Scan(dest ...any) error
	// Columns returns the current result set's column names.
	Columns() ([]string, error)
	// NextResultSet advances to the next result set, if the driver
	// exposes more than one (auxiliary row sets for handlers that bind
	// list-typed Model members).
	NextResultSet() bool
	// Close releases the stream. Idempotent.
	Close() error
	// Err returns any error encountered during iteration.
	Err() error
}

// OutputParameters exposes output/return-value parameters populated by
// ExecuteNonQuery or ExecuteReader, by name.
type OutputParameters interface {
	Value(name string) (any, bool)
}

// Driver is the external collaborator providing vendor-specific wire
// behavior. The engine never speaks SQL or a wire protocol directly; it
// only calls through this contract. Implementations live outside the
// core (pkg/sqldriver/*) — spec.md §1 places vendor drivers deliberately
// out of scope for the core.
type Driver interface {
	OpenConnection(ctx context.Context, connectionString string) (Connection, error)
	BuildCommand(conn Connection, text string, kind CommandKind) (Command, error)
	BindParameter(cmd Command, name string, value any, dir Direction, typeHint string) error
	ExecuteNonQuery(ctx context.Context, cmd Command) (int, error)
	ExecuteReader(ctx context.Context, cmd Command) (RowStream, OutputParameters, error)
	BeginTransaction(ctx context.Context, conn Connection) (Transaction, error)
	// BuildCommandTx builds a command bound to a transaction rather than
	// a bare connection, for use inside a Batch.
	BuildCommandTx(tx Transaction, text string, kind CommandKind) (Command, error)
	ClassifyError(err error) Verdict
}

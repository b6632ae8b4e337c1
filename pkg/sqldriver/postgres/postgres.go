// Package postgres adapts database/sql + lib/pq to sharding.Driver,
// proving the Driver contract is vendor-agnostic (spec.md §6) and
// giving a real backend to exercise alongside pkg/sqldriver/testdriver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/lib/pq"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// namedParam matches the vendor-agnostic @name placeholder convention
// Query.Text() is authored in.
var namedParam = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// Driver implements sharding.Driver over lib/pq. One Driver can serve
// many connection strings; each gets its own pooled *sql.DB, opened
// lazily and kept for the Driver's lifetime.
type Driver struct {
	mu   sync.Mutex
	pools map[string]*sql.DB
}

// New builds an empty Driver.
func New() *Driver {
	return &Driver{pools: make(map[string]*sql.DB)}
}

func (d *Driver) pool(connectionString string) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.pools[connectionString]; ok {
		return db, nil
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("sqldriver/postgres: open: %w", err)
	}
	d.pools[connectionString] = db
	return db, nil
}

type connection struct{ conn *sql.Conn }

func (c *connection) Close() error { return c.conn.Close() }

// OpenConnection implements sharding.Driver.
func (d *Driver) OpenConnection(ctx context.Context, connectionString string) (sharding.Connection, error) {
	db, err := d.pool(connectionString)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqldriver/postgres: acquire connection: %w", err)
	}
	return &connection{conn: conn}, nil
}

// command holds one built statement's rewritten text, its positional
// parameter order, and the bound values keyed by name.
type command struct {
	conn      *sql.Conn
	tx        *sql.Tx
	text      string
	paramOrder []string
	values    map[string]any
	dirs      map[string]sharding.Direction
}

// rewrite replaces every @name occurrence with $1, $2, ... in order of
// first appearance, returning the rewritten text and the resulting
// parameter order.
func rewrite(text string) (string, []string) {
	seen := make(map[string]int)
	var order []string
	out := namedParam.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1:]
		idx, ok := seen[name]
		if !ok {
			idx = len(order)
			seen[name] = idx
			order = append(order, name)
		}
		return "$" + strconv.Itoa(idx+1)
	})
	return out, order
}

// BuildCommand implements sharding.Driver.
func (d *Driver) BuildCommand(conn sharding.Connection, text string, kind sharding.CommandKind) (sharding.Command, error) {
	rewritten, order := rewrite(text)
	return &command{
		conn:       conn.(*connection).conn,
		text:       rewritten,
		paramOrder: order,
		values:     make(map[string]any),
		dirs:       make(map[string]sharding.Direction),
	}, nil
}

// BuildCommandTx implements sharding.Driver.
func (d *Driver) BuildCommandTx(tx sharding.Transaction, text string, kind sharding.CommandKind) (sharding.Command, error) {
	rewritten, order := rewrite(text)
	return &command{
		tx:         tx.(*transaction).tx,
		text:       rewritten,
		paramOrder: order,
		values:     make(map[string]any),
		dirs:       make(map[string]sharding.Direction),
	}, nil
}

// BindParameter implements sharding.Driver. Out and InOut parameters are
// recorded but cannot be populated after execution: the wire protocol
// for a plain statement carries no output-parameter channel the way a
// stored-procedure call does in other vendors. A statement that needs a
// value back should project it with RETURNING and read it as a normal
// result column instead.
func (d *Driver) BindParameter(cmd sharding.Command, name string, value any, dir sharding.Direction, typeHint string) error {
	c := cmd.(*command)
	c.values[name] = value
	c.dirs[name] = dir
	return nil
}

func (c *command) args() []any {
	args := make([]any, len(c.paramOrder))
	for i, name := range c.paramOrder {
		args[i] = c.values[name]
	}
	return args
}

// ExecuteNonQuery implements sharding.Driver.
func (d *Driver) ExecuteNonQuery(ctx context.Context, cmd sharding.Command) (int, error) {
	c := cmd.(*command)
	var res sql.Result
	var err error
	if c.tx != nil {
		res, err = c.tx.ExecContext(ctx, c.text, c.args()...)
	} else {
		res, err = c.conn.ExecContext(ctx, c.text, c.args()...)
	}
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqldriver/postgres: rows affected: %w", err)
	}
	return int(affected), nil
}

type rows struct {
	rows *sql.Rows
}

func (r *rows) Next() bool                    { return r.rows.Next() }
func (r *rows) Scan(dest ...any) error        { return r.rows.Scan(dest...) }
func (r *rows) Columns() ([]string, error)    { return r.rows.Columns() }
func (r *rows) NextResultSet() bool           { return r.rows.NextResultSet() }
func (r *rows) Close() error                  { return r.rows.Close() }
func (r *rows) Err() error                    { return r.rows.Err() }

type noOutputParameters struct{}

func (noOutputParameters) Value(string) (any, bool) { return nil, false }

// ExecuteReader implements sharding.Driver.
func (d *Driver) ExecuteReader(ctx context.Context, cmd sharding.Command) (sharding.RowStream, sharding.OutputParameters, error) {
	c := cmd.(*command)
	var r *sql.Rows
	var err error
	if c.tx != nil {
		r, err = c.tx.QueryContext(ctx, c.text, c.args()...)
	} else {
		r, err = c.conn.QueryContext(ctx, c.text, c.args()...)
	}
	if err != nil {
		return nil, nil, err
	}
	return &rows{rows: r}, noOutputParameters{}, nil
}

type transaction struct{ tx *sql.Tx }

func (t *transaction) Commit() error   { return t.tx.Commit() }
func (t *transaction) Rollback() error { return t.tx.Rollback() }

// BeginTransaction implements sharding.Driver.
func (d *Driver) BeginTransaction(ctx context.Context, conn sharding.Connection) (sharding.Transaction, error) {
	tx, err := conn.(*connection).conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &transaction{tx: tx}, nil
}

// ClassifyError implements sharding.Driver, mapping Postgres SQLSTATE
// classes onto the engine's retry/breaker vocabulary.
func (d *Driver) ClassifyError(err error) sharding.Verdict {
	if errors.Is(err, context.Canceled) {
		return sharding.VerdictCancelled
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return sharding.VerdictFatalAndFailure
		case "40": // transaction rollback (includes serialization_failure)
			return sharding.VerdictRetryable
		case "53": // insufficient resources
			return sharding.VerdictRetryable
		default:
			return sharding.VerdictFatalForCommand
		}
	}
	// Anything not recognized as a server-classified error (dropped
	// connection, DNS failure, etc.) is treated as connection-fatal so
	// the breaker counts it.
	return sharding.VerdictFatalAndFailure
}

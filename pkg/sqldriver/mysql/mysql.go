// Package mysql adapts database/sql + go-sql-driver/mysql to
// sharding.Driver, the second vendor proving the Driver contract is
// vendor-agnostic (spec.md §6).
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-sql-driver/mysql"

	"github.com/shardkit/shardkit/pkg/sharding"
)

var namedParam = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// retryableErrno holds MySQL error numbers considered transient:
// lock-wait timeout, deadlock, too many connections, server-gone-away.
var retryableErrno = map[uint16]bool{
	1205: true,
	1213: true,
	1040: true,
	2006: true,
	2013: true,
}

// Driver implements sharding.Driver over go-sql-driver/mysql.
type Driver struct {
	mu    sync.Mutex
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
	db, err := sql.Open("mysql", connectionString)
	if err != nil {
		return nil, fmt.Errorf("sqldriver/mysql: open: %w", err)
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
		return nil, fmt.Errorf("sqldriver/mysql: acquire connection: %w", err)
	}
	return &connection{conn: conn}, nil
}

type command struct {
	conn       *sql.Conn
	tx         *sql.Tx
	text       string
	paramOrder []string
	values     map[string]any
}

// rewrite replaces every @name occurrence with ? in order of
// appearance, returning the rewritten text and the parameter order
// go-sql-driver expects positionally (repeat uses of the same name
// rebind the value at each occurrence, since MySQL placeholders are
// strictly positional, unlike Postgres's numbered $N).
func rewrite(text string) (string, []string) {
	var order []string
	out := namedParam.ReplaceAllStringFunc(text, func(match string) string {
		order = append(order, match[1:])
		return "?"
	})
	return out, order
}

// BuildCommand implements sharding.Driver.
func (d *Driver) BuildCommand(conn sharding.Connection, text string, kind sharding.CommandKind) (sharding.Command, error) {
	rewritten, order := rewrite(text)
	return &command{conn: conn.(*connection).conn, text: rewritten, paramOrder: order, values: make(map[string]any)}, nil
}

// BuildCommandTx implements sharding.Driver.
func (d *Driver) BuildCommandTx(tx sharding.Transaction, text string, kind sharding.CommandKind) (sharding.Command, error) {
	rewritten, order := rewrite(text)
	return &command{tx: tx.(*transaction).tx, text: rewritten, paramOrder: order, values: make(map[string]any)}, nil
}

// BindParameter implements sharding.Driver. As with the Postgres
// adapter, Out/InOut directions are accepted but never populated after
// execution; a CALL that needs values back should SELECT them itself.
func (d *Driver) BindParameter(cmd sharding.Command, name string, value any, dir sharding.Direction, typeHint string) error {
	cmd.(*command).values[name] = value
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
		return 0, fmt.Errorf("sqldriver/mysql: rows affected: %w", err)
	}
	return int(affected), nil
}

type rows struct{ rows *sql.Rows }

func (r *rows) Next() bool                 { return r.rows.Next() }
func (r *rows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *rows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *rows) NextResultSet() bool        { return r.rows.NextResultSet() }
func (r *rows) Close() error               { return r.rows.Close() }
func (r *rows) Err() error                 { return r.rows.Err() }

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

// ClassifyError implements sharding.Driver, mapping known-transient
// MySQL error numbers and connection-level failures onto the engine's
// retry/breaker vocabulary.
func (d *Driver) ClassifyError(err error) sharding.Verdict {
	if errors.Is(err, context.Canceled) {
		return sharding.VerdictCancelled
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if retryableErrno[myErr.Number] {
			return sharding.VerdictRetryable
		}
		return sharding.VerdictFatalForCommand
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return sharding.VerdictFatalAndFailure
	}
	return sharding.VerdictFatalAndFailure
}

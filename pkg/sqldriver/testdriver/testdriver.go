// Package testdriver is a scripted, in-memory sharding.Driver used to
// exercise the core engine's retry, breaker, and dispatch behavior
// without a real database.
package testdriver

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// ResultSet is one row set an Outcome can hand back through
// ExecuteReader, with NextResultSet advancing between sets.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Outcome is the scripted response for a single engine attempt against
// one query. Driver.ExecuteReader/ExecuteNonQuery consume Outcomes from
// the per-query queue in order, repeating the last one once the queue
// is drained.
type Outcome struct {
	Set            ResultSet
	ExtraSets      []ResultSet
	Output         map[string]any
	Err            error
	Verdict        sharding.Verdict
	NonQueryStatus int
	OpenErr        error
}

// Driver is a scripted sharding.Driver. Queue outcomes per query name
// with Script; BeginTransaction/Commit/Rollback are tracked for
// batch tests.
type Driver struct {
	mu        sync.Mutex
	queues    map[string][]Outcome
	cursor    map[string]int
	Opens     int
	Closes    int
	ConnStrs  []string
	Bound     []BoundParam
	Txns      []*Transaction
	DefaultOpenErr error
}

// BoundParam records one BindParameter call, for assertions.
type BoundParam struct {
	Query string
	Name  string
	Value any
	Dir   sharding.Direction
}

// New builds an empty scripted driver.
func New() *Driver {
	return &Driver{
		queues: make(map[string][]Outcome),
		cursor: make(map[string]int),
	}
}

// Script queues outcomes for the named query, consumed in order across
// successive attempts (used to script a retryable failure followed by
// success).
func (d *Driver) Script(queryName string, outcomes ...Outcome) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[queryName] = append(d.queues[queryName], outcomes...)
	return d
}

func (d *Driver) next(queryName string) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[queryName]
	if len(q) == 0 {
		return Outcome{}
	}
	i := d.cursor[queryName]
	if i >= len(q) {
		i = len(q) - 1
	} else {
		d.cursor[queryName] = i + 1
	}
	return q[i]
}

type connection struct {
	d *Driver
}

func (c *connection) Close() error {
	c.d.mu.Lock()
	c.d.Closes++
	c.d.mu.Unlock()
	return nil
}

// OpenConnection implements sharding.Driver.
func (d *Driver) OpenConnection(_ context.Context, connString string) (sharding.Connection, error) {
	d.mu.Lock()
	d.Opens++
	d.ConnStrs = append(d.ConnStrs, connString)
	openErr := d.DefaultOpenErr
	d.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}
	return &connection{d: d}, nil
}

type command struct {
	queryName string
	text      string
	kind      sharding.CommandKind
}

// BuildCommand implements sharding.Driver. The query name is recovered
// from text, since Command carries no Query back — callers script
// outcomes by Query.Name(), and runEnvelope always builds commands from
// Query.Text(), so tests name queries uniquely by text too.
func (d *Driver) BuildCommand(_ sharding.Connection, text string, kind sharding.CommandKind) (sharding.Command, error) {
	return &command{queryName: text, text: text, kind: kind}, nil
}

// BuildCommandTx implements sharding.Driver for batch steps.
func (d *Driver) BuildCommandTx(_ sharding.Transaction, text string, kind sharding.CommandKind) (sharding.Command, error) {
	return &command{queryName: text, text: text, kind: kind}, nil
}

// BindParameter implements sharding.Driver.
func (d *Driver) BindParameter(cmd sharding.Command, name string, value any, dir sharding.Direction, _ string) error {
	c := cmd.(*command)
	d.mu.Lock()
	d.Bound = append(d.Bound, BoundParam{Query: c.queryName, Name: name, Value: value, Dir: dir})
	d.mu.Unlock()
	return nil
}

// ExecuteNonQuery implements sharding.Driver.
func (d *Driver) ExecuteNonQuery(_ context.Context, cmd sharding.Command) (int, error) {
	c := cmd.(*command)
	o := d.next(c.queryName)
	if o.Err != nil {
		return 0, o.Err
	}
	return o.NonQueryStatus, nil
}

// ExecuteReader implements sharding.Driver.
func (d *Driver) ExecuteReader(_ context.Context, cmd sharding.Command) (sharding.RowStream, sharding.OutputParameters, error) {
	c := cmd.(*command)
	o := d.next(c.queryName)
	if o.Err != nil {
		return nil, nil, o.Err
	}
	sets := append([]ResultSet{o.Set}, o.ExtraSets...)
	return newRows(sets), outputParams(o.Output), nil
}

// Transaction is a scripted sharding.Transaction.
type Transaction struct {
	Committed  bool
	RolledBack bool
}

// Commit implements sharding.Transaction.
func (t *Transaction) Commit() error {
	t.Committed = true
	return nil
}

// Rollback implements sharding.Transaction.
func (t *Transaction) Rollback() error {
	t.RolledBack = true
	return nil
}

// BeginTransaction implements sharding.Driver.
func (d *Driver) BeginTransaction(_ context.Context, _ sharding.Connection) (sharding.Transaction, error) {
	tx := &Transaction{}
	d.mu.Lock()
	d.Txns = append(d.Txns, tx)
	d.mu.Unlock()
	return tx, nil
}

// ClassifyError implements sharding.Driver by looking up the Verdict
// scripted alongside the Outcome that produced err.
func (d *Driver) ClassifyError(err error) sharding.Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queues {
		for _, o := range q {
			if o.Err == err {
				return o.Verdict
			}
		}
	}
	return sharding.VerdictFatalForCommand
}

type rows struct {
	sets     []ResultSet
	setIndex int
	rowIndex int
	closed   bool
}

func newRows(sets []ResultSet) *rows {
	return &rows{sets: sets, rowIndex: -1}
}

func (r *rows) Next() bool {
	if r.setIndex >= len(r.sets) {
		return false
	}
	r.rowIndex++
	return r.rowIndex < len(r.sets[r.setIndex].Rows)
}

func (r *rows) Scan(dest ...any) error {
	row := r.sets[r.setIndex].Rows[r.rowIndex]
	if len(dest) > len(row) {
		return fmt.Errorf("testdriver: scan destination count %d exceeds row width %d", len(dest), len(row))
	}
	for i, d := range dest {
		rv := reflect.ValueOf(d)
		if rv.Kind() != reflect.Ptr {
			return fmt.Errorf("testdriver: scan destination %d is not a pointer", i)
		}
		rv.Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (r *rows) Columns() ([]string, error) {
	return r.sets[r.setIndex].Columns, nil
}

func (r *rows) NextResultSet() bool {
	r.setIndex++
	r.rowIndex = -1
	return r.setIndex < len(r.sets)
}

func (r *rows) Close() error {
	r.closed = true
	return nil
}

func (r *rows) Err() error { return nil }

type outputParams map[string]any

func (o outputParams) Value(name string) (any, bool) {
	v, ok := o[name]
	return v, ok
}

package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeColumnType struct {
	name     string
	scanType reflect.Type
	dbType   string
}

func (c fakeColumnType) Name() string             { return c.name }
func (c fakeColumnType) Nullable() bool           { return false }
func (c fakeColumnType) ScanType() reflect.Type   { return c.scanType }
func (c fakeColumnType) DatabaseTypeName() string { return c.dbType }

type fakeRows struct {
	types []driver.ColumnType
	rows  [][]any
	pos   int
	err   error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (r *fakeRows) ScanStruct(dest any) error        { return nil }
func (r *fakeRows) ColumnTypes() []driver.ColumnType { return r.types }
func (r *fakeRows) Totals(dest ...any) error         { return nil }
func (r *fakeRows) Columns() []string                { return nil }
func (r *fakeRows) Close() error                     { return nil }
func (r *fakeRows) Err() error                       { return r.err }

type fakeConn struct {
	lastQuery string
	rows      *fakeRows
	queryErr  error
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	c.lastQuery = query
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.rows, nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) Close() error                   { return nil }

func stringColumns(names ...string) []driver.ColumnType {
	types := make([]driver.ColumnType, len(names))
	for i, n := range names {
		types[i] = fakeColumnType{name: n, scanType: reflect.TypeOf(""), dbType: "String"}
	}
	return types
}

func TestValidate(t *testing.T) {
	t.Run("prefixes explain estimate", func(t *testing.T) {
		conn := &fakeConn{rows: &fakeRows{types: stringColumns("parts")}}
		eng := NewClickHouseWithConn(conn, nil)

		v, err := eng.Validate(context.Background(), "SELECT id FROM orders;")
		require.NoError(t, err)
		assert.True(t, v.OK)
		assert.Equal(t, "EXPLAIN ESTIMATE SELECT id FROM orders", conn.lastQuery)
	})

	t.Run("statement rejection is a value", func(t *testing.T) {
		conn := &fakeConn{queryErr: &clickhouse.Exception{Code: 47, Message: "Unknown identifier: custmer_id"}}
		eng := NewClickHouseWithConn(conn, nil)

		v, err := eng.Validate(context.Background(), "SELECT custmer_id FROM orders")
		require.NoError(t, err)
		assert.False(t, v.OK)
		assert.Contains(t, v.Error, "custmer_id")
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		conn := &fakeConn{queryErr: errors.New("dial tcp: connection refused")}
		eng := NewClickHouseWithConn(conn, nil)

		_, err := eng.Validate(context.Background(), "SELECT 1")
		require.Error(t, err)
	})

	t.Run("rejects non-select statements", func(t *testing.T) {
		eng := NewClickHouseWithConn(&fakeConn{}, nil)

		v, err := eng.Validate(context.Background(), "DROP TABLE orders")
		require.NoError(t, err)
		assert.False(t, v.OK)
		assert.Contains(t, v.Error, "SELECT")
	})

	t.Run("rejects empty statement", func(t *testing.T) {
		eng := NewClickHouseWithConn(&fakeConn{}, nil)

		v, err := eng.Validate(context.Background(), "   ;")
		require.NoError(t, err)
		assert.False(t, v.OK)
	})
}

func TestExecute(t *testing.T) {
	t.Run("scans rows into maps", func(t *testing.T) {
		conn := &fakeConn{rows: &fakeRows{
			types: stringColumns("name", "city"),
			rows:  [][]any{{"alice", "lisbon"}, {"bob", "porto"}},
		}}
		eng := NewClickHouseWithConn(conn, nil)

		r, err := eng.Execute(context.Background(), "SELECT name, city FROM customers", 0)
		require.NoError(t, err)
		assert.True(t, r.OK)
		assert.Equal(t, []string{"name", "city"}, r.Columns)
		assert.Equal(t, 2, r.RowCount)
		assert.Equal(t, "alice", r.Rows[0]["name"])
		assert.Equal(t, "porto", r.Rows[1]["city"])
	})

	t.Run("caps returned rows but counts all", func(t *testing.T) {
		conn := &fakeConn{rows: &fakeRows{
			types: stringColumns("id"),
			rows:  [][]any{{"1"}, {"2"}, {"3"}, {"4"}},
		}}
		eng := NewClickHouseWithConn(conn, nil)

		r, err := eng.Execute(context.Background(), "SELECT id FROM t", 2)
		require.NoError(t, err)
		assert.Equal(t, 4, r.RowCount)
		assert.Len(t, r.Rows, 2)
	})

	t.Run("execution fault is a value", func(t *testing.T) {
		conn := &fakeConn{queryErr: &clickhouse.Exception{Code: 241, Message: "Memory limit exceeded"}}
		eng := NewClickHouseWithConn(conn, nil)

		r, err := eng.Execute(context.Background(), "SELECT * FROM huge", 0)
		require.NoError(t, err)
		assert.False(t, r.OK)
		assert.Contains(t, r.Error, "Memory limit")
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		conn := &fakeConn{queryErr: context.DeadlineExceeded}
		eng := NewClickHouseWithConn(conn, nil)

		_, err := eng.Execute(context.Background(), "SELECT 1", 0)
		require.Error(t, err)
	})
}

func TestFormatResult(t *testing.T) {
	t.Run("error results", func(t *testing.T) {
		out := FormatResult(Result{Error: "Unknown identifier"}, 50)
		assert.Equal(t, "Error: Unknown identifier", out)
	})

	t.Run("empty results", func(t *testing.T) {
		out := FormatResult(Result{OK: true}, 50)
		assert.Equal(t, "Query returned no results.", out)
	})

	t.Run("truncates long results", func(t *testing.T) {
		r := Result{
			OK:       true,
			Columns:  []string{"id"},
			RowCount: 3,
			Rows:     []map[string]any{{"id": 1}, {"id": 2}, {"id": 3}},
		}
		out := FormatResult(r, 2)
		assert.Contains(t, out, "Results (3 rows)")
		assert.Contains(t, out, "... and 1 more rows")
	})
}

func TestCleanStatement(t *testing.T) {
	assert.Equal(t, "SELECT 1", CleanStatement("  SELECT 1; "))
	assert.Equal(t, "SELECT 1", CleanStatement("SELECT 1"))
}

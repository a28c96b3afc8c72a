package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const defaultMaxRows = 1000

// Conn is the subset of the native driver the engine needs.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseConfig configures a ClickHouse engine.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *slog.Logger
	// MaxExecutionTime caps server-side statement runtime in seconds.
	MaxExecutionTime int
}

// ClickHouse executes statements against a ClickHouse server.
type ClickHouse struct {
	conn Conn
	log  *slog.Logger
}

// NewClickHouse opens a connection and verifies it with a ping.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	maxExecution := cfg.MaxExecutionTime
	if maxExecution <= 0 {
		maxExecution = 60
	}
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": maxExecution,
		},
		DialTimeout: 5 * time.Second,
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("ClickHouse engine initialized", "addr", cfg.Addr, "database", cfg.Database)

	return &ClickHouse{conn: conn, log: log}, nil
}

// NewClickHouseWithConn wraps an existing connection, used in tests.
func NewClickHouseWithConn(conn Conn, log *slog.Logger) *ClickHouse {
	if log == nil {
		log = slog.Default()
	}
	return &ClickHouse{conn: conn, log: log}
}

// Close releases the underlying connection.
func (e *ClickHouse) Close() error {
	return e.conn.Close()
}

// Validate dry-runs a statement with EXPLAIN ESTIMATE. Server-side rejections
// are reported in the Validation value.
func (e *ClickHouse) Validate(ctx context.Context, statement string) (Validation, error) {
	statement = CleanStatement(statement)
	if statement == "" {
		return Validation{Error: "empty statement"}, nil
	}
	if !strings.EqualFold(firstWord(statement), "SELECT") && !strings.EqualFold(firstWord(statement), "WITH") {
		return Validation{Error: "only SELECT statements are allowed"}, nil
	}

	rows, err := e.conn.Query(ctx, "EXPLAIN ESTIMATE "+statement)
	if err != nil {
		if isTransportError(err) {
			return Validation{}, fmt.Errorf("validate: %w", err)
		}
		e.log.Debug("statement rejected", "error", err)
		return Validation{Error: err.Error()}, nil
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return Validation{Error: err.Error()}, nil
	}
	return Validation{OK: true}, nil
}

// Execute runs a statement and collects up to maxRows rows. Read progress is
// accumulated into BytesScanned.
func (e *ClickHouse) Execute(ctx context.Context, statement string, maxRows int) (Result, error) {
	statement = CleanStatement(statement)
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	var bytesRead uint64
	qctx := clickhouse.Context(ctx, clickhouse.WithProgress(func(p *clickhouse.Progress) {
		bytesRead += p.Bytes
	}))

	start := time.Now()
	rows, err := e.conn.Query(qctx, statement)
	if err != nil {
		if isTransportError(err) {
			return Result{}, fmt.Errorf("execute: %w", err)
		}
		return Result{Error: err.Error(), BytesScanned: bytesRead}, nil
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	columns := make([]string, len(types))
	for i, ct := range types {
		columns[i] = ct.Name()
	}

	var out []map[string]any
	count := 0
	for rows.Next() {
		count++
		if count > maxRows {
			continue
		}
		dests := make([]any, len(types))
		for i, ct := range types {
			dests[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return Result{Error: err.Error(), BytesScanned: bytesRead}, nil
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = reflect.ValueOf(dests[i]).Elem().Interface()
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{Error: err.Error(), BytesScanned: bytesRead}, nil
	}

	e.log.Debug("statement executed",
		"rows", count,
		"bytes_read", bytesRead,
		"duration", time.Since(start))

	return Result{
		OK:           true,
		Columns:      columns,
		Rows:         out,
		RowCount:     count,
		BytesScanned: bytesRead,
	}, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// isTransportError distinguishes connection-level failures from statement
// rejections. Context cancellation and network errors are transport; a
// clickhouse exception carries a server error code and is statement-level.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var ex *clickhouse.Exception
	return !errors.As(err, &ex)
}

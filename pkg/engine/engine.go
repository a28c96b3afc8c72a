// Package engine abstracts the remote query engine. Statement-level
// rejections (syntax, unknown columns, execution faults) travel in the result
// value so the refinement loop can feed them back; the error return is
// reserved for transport-level failures.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// Validation is the outcome of a side-effect-free dry run.
type Validation struct {
	OK bool
	// BytesScanned is a best-effort cost estimate; engines that only
	// estimate row counts report 0.
	BytesScanned uint64
	Error        string
}

// Result is the outcome of executing a statement.
type Result struct {
	OK           bool
	Columns      []string
	Rows         []map[string]any
	RowCount     int
	BytesScanned uint64
	Error        string
}

// Engine validates and executes statements against the data store.
type Engine interface {
	// Validate checks a statement without executing it.
	Validate(ctx context.Context, statement string) (Validation, error)
	// Execute runs a statement, returning at most maxRows rows (0 means the
	// engine default).
	Execute(ctx context.Context, statement string, maxRows int) (Result, error)
}

// CleanStatement trims whitespace and a trailing semicolon.
func CleanStatement(statement string) string {
	return strings.TrimSuffix(strings.TrimSpace(statement), ";")
}

// FormatResult renders a result as compact text for refinement prompts.
func FormatResult(r Result, maxRows int) string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	if r.RowCount == 0 {
		return "Query returned no results."
	}
	if maxRows <= 0 {
		maxRows = 50
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Results (%d rows):\n", r.RowCount))
	sb.WriteString("Columns: " + strings.Join(r.Columns, " | ") + "\n")

	display := len(r.Rows)
	if display > maxRows {
		display = maxRows
	}
	for i := 0; i < display; i++ {
		values := make([]string, len(r.Columns))
		for j, col := range r.Columns {
			values[j] = fmt.Sprintf("%v", r.Rows[i][col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}
	if r.RowCount > display {
		sb.WriteString(fmt.Sprintf("... and %d more rows\n", r.RowCount-display))
	}
	return sb.String()
}

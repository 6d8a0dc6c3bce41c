// CLAUDE:SUMMARY Query engine: ephemeral in-memory instance with the workbook file ATTACHed under source_db.
// Package queryrun executes read-only SQL against a downloaded workbook
// database file.
//
// Each Engine owns a private in-memory SQLite instance with the on-disk file
// attached under the fixed alias "source_db"; all generated SQL references
// tables through that alias. Read-only is enforced by the sqlguard statement
// parser, not by file permissions. Engines are per-request: concurrent query
// requests each open their own instance and share no connection state.
package queryrun

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/horosheet/dbopen"
	"github.com/hazyhaar/horosheet/sqlguard"
)

// Alias is the fixed name under which the workbook database is attached.
const Alias = "source_db"

// Engine wraps one attached workbook database.
type Engine struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Result is an executed query's ordered result set. Column order matches the
// SELECT order; every value is rendered as a string ("" for NULL).
type Result struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	RowCount  int        `json:"row_count"`
	ElapsedMs int64      `json:"elapsed_ms"`
}

// Schema enumerates the attached database's tables and their columns.
type Schema struct {
	Tables  []string
	Columns map[string][]Column
}

// Column is one column of an attached table.
type Column struct {
	Name string
	Type string
}

// Open opens an ephemeral in-memory instance and attaches the database file
// at path under Alias.
func Open(path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := dbopen.OpenEphemeral()
	if err != nil {
		return nil, fmt.Errorf("queryrun: open instance: %w", err)
	}
	if err := dbopen.Attach(db, path, Alias); err != nil {
		db.Close()
		return nil, fmt.Errorf("queryrun: %w", err)
	}
	return &Engine{db: db, path: path, logger: logger}, nil
}

// Execute runs a single read-only statement and returns its rows with
// timing. Statements that are not read-only single SELECTs are rejected by
// sqlguard before touching the database.
func (e *Engine) Execute(ctx context.Context, query string) (*Result, error) {
	if err := sqlguard.Check(query, Alias); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queryrun: execute: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("queryrun: columns: %w", err)
	}

	res := &Result{Columns: cols}
	raw := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("queryrun: scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryrun: rows: %w", err)
	}

	res.RowCount = len(res.Rows)
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res, nil
}

// DescribeSchema enumerates the attached database's tables and columns from
// its own catalog.
func (e *Engine) DescribeSchema(ctx context.Context) (*Schema, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%' ORDER BY name`, Alias))
	if err != nil {
		return nil, fmt.Errorf("queryrun: list tables: %w", err)
	}
	defer rows.Close()

	schema := &Schema{Columns: make(map[string][]Column)}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("queryrun: scan table: %w", err)
		}
		schema.Tables = append(schema.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryrun: tables: %w", err)
	}

	for _, table := range schema.Tables {
		cols, err := e.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		schema.Columns[table] = cols
	}
	return schema, nil
}

func (e *Engine) tableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA %s.table_info(%q)`, Alias, table))
	if err != nil {
		return nil, fmt.Errorf("queryrun: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("queryrun: scan column: %w", err)
		}
		cols = append(cols, Column{Name: name, Type: typ})
	}
	return cols, rows.Err()
}

// Samples returns up to n rows of table as column-name → value maps, used to
// ground SQL generation retries in live data.
func (e *Engine) Samples(ctx context.Context, table string, n int) ([]map[string]string, error) {
	res, err := e.Execute(ctx, fmt.Sprintf(`SELECT * FROM %s.%q LIMIT %d`, Alias, table, n))
	if err != nil {
		return nil, err
	}
	samples := make([]map[string]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		m := make(map[string]string, len(res.Columns))
		for i, c := range res.Columns {
			m[c] = row[i]
		}
		samples = append(samples, m)
	}
	return samples, nil
}

// Close releases the instance. Cleanup failures are logged, never returned:
// a close error must not mask the request's primary result.
func (e *Engine) Close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("queryrun: close", "path", e.path, "error", err)
	}
}

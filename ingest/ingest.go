// CLAUDE:SUMMARY Workbook ingestion engine: sheets to TEXT tables, verification, durability flush, metadata.
// Package ingest converts a parsed workbook into a single SQLite database
// file holding one TEXT-typed table per non-empty worksheet.
//
// The pipeline for one upload:
//
//  1. Derive a short hash from the workbook file ID (not from content).
//  2. Parse bytes into ordered sheets; blank rows dropped, cells trimmed.
//  3. Pre-flight: drop stale tables left in the target file by prior runs.
//  4. Per sheet: drop+create the table, bulk-insert every row as strings,
//     verify the row count (log-only on mismatch).
//  5. Verify table count == non-empty sheet count (hard failure).
//  6. Flush: WAL checkpoint (hard failure), close handles before the caller
//     uploads the file.
//  7. Describe each table (best-effort) and emit the metadata document.
//
// Ingestion never talks to blob storage or the file-record store; callers
// persist the produced files and own compensating cleanup on failure.
package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/horosheet/dbopen"
	"github.com/hazyhaar/horosheet/xlsxpipe"
)

// HashLen is the length of the derived database identifier.
const HashLen = 12

// ErrDuplicateColumn is returned when two distinct headers of one sheet
// sanitize to the same column name. Silently overwriting would lose one of
// the two original columns, so ingestion refuses instead.
var ErrDuplicateColumn = errors.New("ingest: duplicate sanitized column name")

// ErrDuplicateTable is returned when two distinct sheet names derive the
// same table name.
var ErrDuplicateTable = errors.New("ingest: duplicate derived table name")

// ErrTableCountMismatch is returned when the loaded database does not hold
// exactly one table per non-empty sheet. The ingestion is failed and must
// not be marked completed downstream.
var ErrTableCountMismatch = errors.New("ingest: table count does not match non-empty sheet count")

// Config configures an Ingestor.
type Config struct {
	// WorkDir is where {hash}.db and {hash}.json are produced.
	WorkDir string `yaml:"work_dir"`

	// Parse configures workbook parsing.
	Parse xlsxpipe.Config `yaml:"parse"`

	// Logger for progress/warning messages.
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingestor is the workbook ingestion engine.
type Ingestor struct {
	cfg       Config
	describer *xlsxpipe.Describer
	logger    *slog.Logger
}

// New creates an Ingestor. describer may be nil; schema descriptions then
// degrade to placeholders.
func New(cfg Config, describer *xlsxpipe.Describer) *Ingestor {
	cfg.defaults()
	if describer == nil {
		describer = xlsxpipe.NewDescriber(nil, cfg.Logger)
	}
	return &Ingestor{cfg: cfg, describer: describer, logger: cfg.Logger}
}

// Result is the outcome of one successful ingestion.
type Result struct {
	Hash             string
	DatabaseFilePath string
	MetadataFilePath string
	Metadata         *Metadata
	SheetsProcessed  int
	TableColumns     map[string][]string
}

// Hash derives the short database identifier from a workbook file ID.
// Deterministic over the ID, not the content: re-uploading the same bytes
// under a new file ID yields a different hash.
func Hash(fileID string) string {
	sum := sha256.Sum256([]byte(fileID))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// columnPlan is the fixed column layout for one sheet's table, derived from
// the header row: placeholder headers dropped, the rest sanitized in
// first-seen order.
type columnPlan struct {
	indices []int    // positions in the sheet's header row
	names   []string // sanitized column names, aligned to indices
}

func planColumns(sheet *xlsxpipe.Sheet) (*columnPlan, error) {
	plan := &columnPlan{}
	seen := make(map[string]string)
	for i, h := range sheet.Headers {
		if strings.HasPrefix(h, xlsxpipe.EmptyHeaderPrefix) {
			continue
		}
		name := xlsxpipe.SanitizeColumn(h)
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q and %q both map to %q in sheet %q",
				ErrDuplicateColumn, prev, h, name, sheet.Name)
		}
		seen[name] = h
		plan.indices = append(plan.indices, i)
		plan.names = append(plan.names, name)
	}
	return plan, nil
}

// Ingest runs the full pipeline for one uploaded workbook.
func (ing *Ingestor) Ingest(ctx context.Context, data []byte, fileID string) (*Result, error) {
	hash := Hash(fileID)

	sheets, err := xlsxpipe.Parse(data, ing.cfg.Parse)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	// Compute the expected table set up front, before mutating anything.
	var loads []loadable
	expected := make(map[string]string)
	for i := range sheets {
		s := &sheets[i]
		if s.Empty() {
			ing.logger.Info("skipping empty sheet", "sheet", s.Name)
			continue
		}
		table := xlsxpipe.TableName(s.Name)
		if prev, ok := expected[table]; ok {
			return nil, fmt.Errorf("%w: sheets %q and %q both map to %q",
				ErrDuplicateTable, prev, s.Name, table)
		}
		plan, err := planColumns(s)
		if err != nil {
			return nil, err
		}
		expected[table] = s.Name
		loads = append(loads, loadable{sheet: s, table: table, plan: plan})
	}

	dbPath := filepath.Join(ing.cfg.WorkDir, hash+".db")
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	res, err := ing.load(ctx, db, loads, expected, hash, fileID, dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Flush before the caller uploads the file: checkpoint the WAL into the
	// main file, then release every handle. Uploading with an open writer
	// risks truncated bytes.
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ingest: wal checkpoint: %w", err)
	}
	if err := db.Close(); err != nil {
		ing.logger.Warn("close after flush", "hash", hash, "error", err)
	}

	// Descriptions come from the final sanitized column lists, never the raw
	// headers.
	res.Metadata.Schemas = make(map[string]string, len(loads))
	for _, l := range loads {
		samples := sampleRows(l.sheet, l.plan, xlsxpipe.DescribeSampleRows)
		res.Metadata.Schemas[l.table] = ing.describer.Describe(ctx, l.table, l.plan.names, samples)
	}

	metaPath := filepath.Join(ing.cfg.WorkDir, hash+".json")
	if err := res.Metadata.Write(metaPath); err != nil {
		return nil, err
	}
	res.MetadataFilePath = metaPath

	ing.logger.Info("ingestion complete", "hash", hash, "sheets", res.SheetsProcessed)
	return res, nil
}

// loadable is one non-empty sheet with its derived table name and fixed
// column layout.
type loadable struct {
	sheet *xlsxpipe.Sheet
	table string
	plan  *columnPlan
}

// load creates and fills one table per non-empty sheet, then verifies the
// table count invariant.
func (ing *Ingestor) load(ctx context.Context, db *sql.DB, loads []loadable, expected map[string]string, hash, fileID, dbPath string) (*Result, error) {
	// Pre-flight cleanup: remove stale tables from a previous run at the
	// same path that are not in the expected set.
	existing, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, table := range existing {
		if _, ok := expected[table]; ok {
			continue
		}
		ing.logger.Info("dropping stale table", "table", table)
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
			return nil, fmt.Errorf("ingest: drop stale table %s: %w", table, err)
		}
	}

	res := &Result{
		Hash:             hash,
		DatabaseFilePath: dbPath,
		TableColumns:     make(map[string][]string, len(loads)),
		Metadata:         &Metadata{Hash: hash, FileID: fileID},
	}

	for _, l := range loads {
		if err := ing.loadSheet(ctx, db, l.table, l.plan, l.sheet); err != nil {
			return nil, err
		}
		res.TableColumns[l.table] = l.plan.names
		res.Metadata.Tables = append(res.Metadata.Tables, TableRef{Table: l.table, Sheet: l.sheet.Name})
		res.SheetsProcessed++
	}

	// Hard invariant: exactly one table per non-empty sheet.
	final, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(final) != len(loads) {
		return nil, fmt.Errorf("%w: have %d tables, want %d",
			ErrTableCountMismatch, len(final), len(loads))
	}

	return res, nil
}

// loadSheet drops and recreates the table, then inserts every row one
// bound-and-executed statement at a time, all cells bound as strings.
func (ing *Ingestor) loadSheet(ctx context.Context, db *sql.DB, table string, plan *columnPlan, sheet *xlsxpipe.Sheet) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
		return fmt.Errorf("ingest: drop table %s: %w", table, err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE %q (%s)`, table, columnDDL(plan.names))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ingest: create table %s: %w", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest: begin %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, plan.names))
	if err != nil {
		return fmt.Errorf("ingest: prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range sheet.Rows {
		args := make([]any, len(plan.indices))
		for i, idx := range plan.indices {
			args[i] = row[idx]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("ingest: insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ingest: commit %s: %w", table, err)
	}

	// Best-effort fidelity check: verify the landed row count. Log-only; a
	// mismatch here reflects best-effort insert semantics, not corruption.
	var n int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n); err != nil {
		ing.logger.Warn("row count check failed", "table", table, "error", err)
	} else if n != len(sheet.Rows) {
		ing.logger.Warn("row count mismatch", "table", table, "inserted", len(sheet.Rows), "counted", n)
	}

	ing.logger.Debug("loaded sheet", "table", table, "rows", len(sheet.Rows), "columns", len(plan.names))
	return nil
}

func columnDDL(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf(`%q TEXT`, n)
	}
	return out
}

func insertSQL(table string, names []string) string {
	cols := ""
	marks := ""
	for i, n := range names {
		if i > 0 {
			cols += ", "
			marks += ", "
		}
		cols += fmt.Sprintf("%q", n)
		marks += "?"
	}
	return fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, table, cols, marks)
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ingest: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ingest: scan table: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// sampleRows maps the first n data rows through the column plan, producing
// sanitized-name → value maps for the describer.
func sampleRows(sheet *xlsxpipe.Sheet, plan *columnPlan, n int) []map[string]string {
	if n > len(sheet.Rows) {
		n = len(sheet.Rows)
	}
	samples := make([]map[string]string, 0, n)
	for _, row := range sheet.Rows[:n] {
		m := make(map[string]string, len(plan.names))
		for i, idx := range plan.indices {
			m[plan.names[i]] = row[idx]
		}
		samples = append(samples, m)
	}
	return samples
}

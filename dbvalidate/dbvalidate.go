// CLAUDE:SUMMARY Structural validation of produced workbook databases against an expected schema.
// Package dbvalidate downloads a previously produced workbook database and
// checks its tables, columns and types against an expected schema.
//
// Policy: a missing expected table or column, or a type mismatch, is an
// error and fails validation. A present-but-unexpected table, column or
// type is a warning only — extra structure never fails a database.
//
// The authoritative validation path reads the database's own catalog. A
// secondary entry point derives an expected schema from a metadata
// document's free-text descriptions; that text is LLM-generated and the
// extraction is a best-effort hint, not an authority.
package dbvalidate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/horosheet/blobstore"
	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/queryrun"
)

// Schema enumerates the tables, columns and types a workbook database is
// expected to contain.
type Schema struct {
	ExpectedTables  []string
	ExpectedColumns map[string][]string
	ExpectedTypes   map[string]map[string]string
}

// Result is a structured diff between expected and actual schema.
type Result struct {
	Success    bool
	Errors     []string
	Warnings   []string
	TableCount int
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Success = false
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate downloads the database object at key from blob storage, attaches
// it, and diffs its catalog against expected. The temporary local copy is
// removed on every exit path.
func Validate(ctx context.Context, store blobstore.Store, key string, expected *Schema, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("dbvalidate: download %s: %w", key, err)
	}

	tmp := filepath.Join(os.TempDir(), "validate_"+filepath.Base(key))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("dbvalidate: write temp: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp); err != nil {
			logger.Warn("dbvalidate: remove temp", "path", tmp, "error", err)
		}
	}()

	engine, err := queryrun.Open(tmp, logger)
	if err != nil {
		return nil, fmt.Errorf("dbvalidate: %w", err)
	}
	defer engine.Close()

	actual, err := engine.DescribeSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbvalidate: %w", err)
	}

	return diff(expected, actual), nil
}

// diff compares the expected schema against the actual catalog.
func diff(expected *Schema, actual *queryrun.Schema) *Result {
	res := &Result{Success: true, TableCount: len(actual.Tables)}

	actualTables := make(map[string]map[string]string, len(actual.Tables))
	for _, t := range actual.Tables {
		cols := make(map[string]string, len(actual.Columns[t]))
		for _, c := range actual.Columns[t] {
			cols[c.Name] = strings.ToUpper(c.Type)
		}
		actualTables[t] = cols
	}

	expectedSet := make(map[string]bool, len(expected.ExpectedTables))
	for _, t := range expected.ExpectedTables {
		expectedSet[t] = true

		cols, ok := actualTables[t]
		if !ok {
			res.errorf("missing table %q", t)
			continue
		}

		for _, c := range expected.ExpectedColumns[t] {
			typ, ok := cols[c]
			if !ok {
				res.errorf("table %q: missing column %q", t, c)
				continue
			}
			want := strings.ToUpper(expected.ExpectedTypes[t][c])
			if want != "" && typ != want {
				res.errorf("table %q: column %q has type %s, want %s", t, c, typ, want)
			}
		}

		expectedCols := make(map[string]bool, len(expected.ExpectedColumns[t]))
		for _, c := range expected.ExpectedColumns[t] {
			expectedCols[c] = true
		}
		for c := range cols {
			if !expectedCols[c] {
				res.warnf("table %q: unexpected column %q", t, c)
			}
		}
	}

	for t := range actualTables {
		if !expectedSet[t] {
			res.warnf("unexpected table %q", t)
		}
	}

	return res
}

// descColRe extracts "- name (TYPE):" lines from schema description text.
var descColRe = regexp.MustCompile(`(?m)^\s*-\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(([A-Za-z]+)\)\s*:`)

// SchemaFromMetadata derives an expected schema from a metadata document's
// free-text schema descriptions. Best-effort: if the LLM-written description
// format drifted, a table may come back with zero columns. Prefer Validate
// against a hand-built Schema when authority matters.
func SchemaFromMetadata(meta *ingest.Metadata) *Schema {
	s := &Schema{
		ExpectedColumns: make(map[string][]string),
		ExpectedTypes:   make(map[string]map[string]string),
	}
	for _, ref := range meta.Tables {
		s.ExpectedTables = append(s.ExpectedTables, ref.Table)
		s.ExpectedTypes[ref.Table] = make(map[string]string)
		for _, m := range descColRe.FindAllStringSubmatch(meta.Schemas[ref.Table], -1) {
			s.ExpectedColumns[ref.Table] = append(s.ExpectedColumns[ref.Table], m[1])
			s.ExpectedTypes[ref.Table][m[1]] = strings.ToUpper(m[2])
		}
	}
	return s
}

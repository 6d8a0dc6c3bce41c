// CLAUDE:SUMMARY Parser-based read-only SQL guard: single statement, top-level SELECT only.
// Package sqlguard decides whether a SQL statement may run against an
// attached workbook database.
//
// The guard parses the statement with a real SQLite SQL parser instead of
// sniffing a keyword prefix. A prefix check is trivially bypassed by
// multi-statement input ("SELECT 1; DROP TABLE x") or a CTE wrapping a
// mutating statement; a parse tree is not. Anything whose top-level type is
// not a read query is rejected, and multi-statement input is rejected
// outright.
package sqlguard

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	rsql "github.com/rqlite/sql"
)

// ErrEmpty is returned for blank input.
var ErrEmpty = errors.New("sqlguard: empty statement")

// ErrNotReadOnly is returned when the top-level statement is not a SELECT.
var ErrNotReadOnly = errors.New("sqlguard: statement is not a read-only query")

// ErrMultiStatement is returned when the input contains more than one
// statement.
var ErrMultiStatement = errors.New("sqlguard: multi-statement input rejected")

// Check returns nil if q is a single read-only SELECT statement (common
// table expressions included), or a policy error otherwise. A parse failure
// is returned as-is so callers can distinguish malformed SQL from a policy
// violation.
//
// alias, when non-empty, is the fixed name the workbook database is attached
// under; its qualifier is stripped before parsing so the parser sees
// single-database statements. Stripping a qualifier never changes the
// top-level statement type, which is all the guard rules on.
func Check(q, alias string) error {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return ErrEmpty
	}
	if alias != "" {
		trimmed = stripAlias(trimmed, alias)
	}

	p := rsql.NewParser(strings.NewReader(trimmed))
	stmt, err := p.ParseStatement()
	if err != nil {
		return fmt.Errorf("sqlguard: parse: %w", err)
	}

	// A second parsable statement means multi-statement input.
	if _, err := p.ParseStatement(); err == nil || !errors.Is(err, io.EOF) {
		return ErrMultiStatement
	}

	if _, ok := stmt.(*rsql.SelectStatement); !ok {
		return ErrNotReadOnly
	}
	return nil
}

func stripAlias(q, alias string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(alias) + `\s*\.\s*`)
	return re.ReplaceAllString(q, "")
}

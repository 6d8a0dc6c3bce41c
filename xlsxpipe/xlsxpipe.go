// CLAUDE:SUMMARY Workbook parsing pipeline: sheet discovery, row materialization, header placeholders.
// Package xlsxpipe reads uploaded spreadsheet workbooks into ordered,
// string-typed sheet structures ready for relational loading.
//
// The pipeline is deliberately type-agnostic: every cell is a trimmed string
// and blank/missing cells are empty strings. Type inference happens nowhere;
// downstream tables carry TEXT columns only.
//
// Usage:
//
//	sheets, err := xlsxpipe.Parse(data, xlsxpipe.Config{})
//	for _, s := range sheets {
//		if s.Empty() { continue }
//		...
//	}
package xlsxpipe

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"
)

// EmptyHeaderPrefix marks header cells that were blank in the workbook.
// Columns whose header carries this prefix are dropped before sanitization.
const EmptyHeaderPrefix = "__empty"

// ErrBadWorkbook is returned when the uploaded bytes are not a readable
// spreadsheet. Callers map it to a client error.
var ErrBadWorkbook = errors.New("xlsxpipe: invalid workbook")

// Config configures workbook parsing.
type Config struct {
	// MaxFileSize is the maximum workbook size to process (default: 50 MB).
	MaxFileSize int64 `yaml:"max_file_size"`

	// Logger for debug/warning messages.
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Sheet is one worksheet materialized as ordered headers and rows.
// Rows are aligned to Headers: Rows[i][j] is the value under Headers[j],
// "" for blank/missing cells. Fully blank rows are already dropped.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Empty reports whether the sheet has zero data rows. Empty sheets produce
// no table and are absent from all downstream schema structures.
func (s *Sheet) Empty() bool { return len(s.Rows) == 0 }

// Parse reads workbook bytes into an ordered list of sheets.
//
// The first row of each sheet is taken as the header row. Blank header cells
// receive a placeholder name ("__empty_N") so that column positions stay
// stable; callers drop placeholder columns before table creation. Cells are
// trimmed; rows with no non-blank cell are dropped.
func Parse(data []byte, cfg Config) ([]Sheet, error) {
	cfg.defaults()

	if int64(len(data)) > cfg.MaxFileSize {
		return nil, fmt.Errorf("xlsxpipe: workbook too large: %d bytes (max %d)", len(data), cfg.MaxFileSize)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWorkbook, err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("xlsxpipe: read sheet %q: %w", name, err)
		}
		sheet := materialize(name, rows)
		cfg.Logger.Debug("parsed sheet", "sheet", name, "rows", len(sheet.Rows), "columns", len(sheet.Headers))
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

// materialize turns raw cell rows into a Sheet: header row first, then data
// rows aligned to the header width.
func materialize(name string, raw [][]string) Sheet {
	if len(raw) == 0 {
		return Sheet{Name: name}
	}

	headers := make([]string, len(raw[0]))
	for i, h := range raw[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("%s_%d", EmptyHeaderPrefix, i+1)
		}
		headers[i] = h
	}

	var rows [][]string
	for _, r := range raw[1:] {
		row := make([]string, len(headers))
		blank := true
		for j := range headers {
			if j < len(r) {
				v := strings.TrimSpace(r[j])
				row[j] = v
				if v != "" {
					blank = false
				}
			}
		}
		if blank {
			continue
		}
		rows = append(rows, row)
	}

	return Sheet{Name: name, Headers: headers, Rows: rows}
}

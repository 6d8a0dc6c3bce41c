package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hazyhaar/horosheet/dbopen"
)

func buildWorkbook(t *testing.T, sheets []string, rows map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				t.Fatal(err)
			}
		}
		for j, row := range rows[name] {
			cell, err := excelize.CoordinatesToCellName(1, j+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				t.Fatal(err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newIngestor(t *testing.T) *Ingestor {
	t.Helper()
	return New(Config{WorkDir: t.TempDir()}, nil)
}

func TestHashDeterministic(t *testing.T) {
	if Hash("file-1") != Hash("file-1") {
		t.Fatal("hash is not deterministic")
	}
	if Hash("file-1") == Hash("file-2") {
		t.Fatal("distinct file IDs must not collide")
	}
	if len(Hash("file-1")) != HashLen {
		t.Fatalf("hash length = %d", len(Hash("file-1")))
	}
}

func TestIngestRoundTripSchema(t *testing.T) {
	data := buildWorkbook(t, []string{"Sales"}, map[string][][]any{
		"Sales": {
			{"Name", "2024 Revenue"},
			{"Acme", 1200},
			{"Globex", 900},
		},
	})

	ing := newIngestor(t)
	res, err := ing.Ingest(context.Background(), data, "file-abc")
	if err != nil {
		t.Fatal(err)
	}

	cols := res.TableColumns["sheet_sales"]
	if len(cols) != 2 || cols[0] != "name" || cols[1] != "col_2024_revenue" {
		t.Fatalf("columns = %v", cols)
	}

	db, err := dbopen.Open(res.DatabaseFilePath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query(`PRAGMA table_info("sheet_sales")`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			t.Fatal(err)
		}
		if typ != "TEXT" {
			t.Errorf("column %s has type %q, want TEXT", name, typ)
		}
		got = append(got, name)
	}
	if len(got) != 2 || got[0] != "name" || got[1] != "col_2024_revenue" {
		t.Fatalf("table columns = %v", got)
	}
}

func TestIngestEmptySheetExcluded(t *testing.T) {
	data := buildWorkbook(t, []string{"A", "B", "C"}, map[string][][]any{
		"A": {{"X"}, {"1"}},
		"B": {{"Y"}}, // header only: zero data rows
		"C": {{"Z"}, {"2"}},
	})

	ing := newIngestor(t)
	res, err := ing.Ingest(context.Background(), data, "file-3sheets")
	if err != nil {
		t.Fatal(err)
	}
	if res.SheetsProcessed != 2 {
		t.Fatalf("sheetsProcessed = %d, want 2", res.SheetsProcessed)
	}
	if len(res.Metadata.Tables) != 2 {
		t.Fatalf("metadata tables = %v", res.Metadata.Tables)
	}
	for _, ref := range res.Metadata.Tables {
		if ref.Sheet == "B" {
			t.Fatal("empty sheet must be absent from metadata")
		}
	}
}

func TestIngestRowFidelity(t *testing.T) {
	const n = 57
	rows := [][]any{{"ID", "Value"}}
	for i := 0; i < n; i++ {
		rows = append(rows, []any{i, "v"})
	}
	data := buildWorkbook(t, []string{"Data"}, map[string][][]any{"Data": rows})

	ing := newIngestor(t)
	res, err := ing.Ingest(context.Background(), data, "file-fidelity")
	if err != nil {
		t.Fatal(err)
	}

	db, err := dbopen.Open(res.DatabaseFilePath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "sheet_data"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
}

func TestIngestDuplicateColumnRejected(t *testing.T) {
	data := buildWorkbook(t, []string{"S"}, map[string][][]any{
		"S": {
			{"Revenue $", "Revenue %"},
			{"1", "2"},
		},
	})

	ing := newIngestor(t)
	_, err := ing.Ingest(context.Background(), data, "file-dup")
	if err == nil {
		t.Fatal("expected duplicate column error")
	}
}

func TestIngestDropsStaleTables(t *testing.T) {
	dir := t.TempDir()
	hash := Hash("file-stale")

	// Seed a leftover database from a "previous run" with a stale table.
	stale, err := dbopen.Open(filepath.Join(dir, hash+".db"),
		dbopen.WithSchema(`CREATE TABLE sheet_old (junk TEXT)`))
	if err != nil {
		t.Fatal(err)
	}
	if err := stale.Close(); err != nil {
		t.Fatal(err)
	}

	data := buildWorkbook(t, []string{"Fresh"}, map[string][][]any{
		"Fresh": {{"A"}, {"1"}},
	})
	ing := New(Config{WorkDir: dir}, nil)
	res, err := ing.Ingest(context.Background(), data, "file-stale")
	if err != nil {
		t.Fatal(err)
	}

	db, err := dbopen.Open(res.DatabaseFilePath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`,
	).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("table count = %d, want 1 (stale table must be gone)", count)
	}
}

func TestIngestEmitsMetadata(t *testing.T) {
	data := buildWorkbook(t, []string{"Sales"}, map[string][][]any{
		"Sales": {{"Name"}, {"Acme"}},
	})

	ing := newIngestor(t)
	res, err := ing.Ingest(context.Background(), data, "file-meta")
	if err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(res.MetadataFilePath)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := ParseMetadata(raw)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Hash != res.Hash || meta.FileID != "file-meta" {
		t.Fatalf("metadata = %+v", meta)
	}
	if meta.Schemas["sheet_sales"] == "" {
		t.Fatal("expected a schema description (placeholder at minimum)")
	}
}

func TestIngestBadBytes(t *testing.T) {
	ing := newIngestor(t)
	if _, err := ing.Ingest(context.Background(), []byte("garbage"), "file-bad"); err == nil {
		t.Fatal("expected parse error")
	}
}

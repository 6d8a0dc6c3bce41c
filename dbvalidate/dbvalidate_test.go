package dbvalidate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/horosheet/blobstore"
	"github.com/hazyhaar/horosheet/dbopen"
	"github.com/hazyhaar/horosheet/ingest"
)

// uploadTestDB builds a workbook database with the given DDL and uploads it
// under key.
func uploadTestDB(t *testing.T, store blobstore.Store, key string, ddl ...string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v.db")
	opts := []dbopen.Option{}
	for _, s := range ddl {
		opts = append(opts, dbopen.WithSchema(s))
	}
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(context.Background(), key, data, blobstore.ContentTypeBinary); err != nil {
		t.Fatal(err)
	}
}

func expectedSales() *Schema {
	return &Schema{
		ExpectedTables:  []string{"sheet_sales"},
		ExpectedColumns: map[string][]string{"sheet_sales": {"name", "city"}},
		ExpectedTypes: map[string]map[string]string{
			"sheet_sales": {"name": "TEXT", "city": "TEXT"},
		},
	}
}

func TestValidateClean(t *testing.T) {
	store, _ := blobstore.NewFSStore(t.TempDir(), nil)
	uploadTestDB(t, store, "h/h.db", `CREATE TABLE sheet_sales (name TEXT, city TEXT)`)

	res, err := Validate(context.Background(), store, "h/h.db", expectedSales(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateExtraTableIsWarning(t *testing.T) {
	store, _ := blobstore.NewFSStore(t.TempDir(), nil)
	uploadTestDB(t, store, "h/h.db",
		`CREATE TABLE sheet_sales (name TEXT, city TEXT)`,
		`CREATE TABLE sheet_extra (x TEXT)`,
	)

	res, err := Validate(context.Background(), store, "h/h.db", expectedSales(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("extra table must not fail validation: %+v", res)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestValidateMissingTableIsError(t *testing.T) {
	store, _ := blobstore.NewFSStore(t.TempDir(), nil)
	uploadTestDB(t, store, "h/h.db", `CREATE TABLE sheet_other (x TEXT)`)

	res, err := Validate(context.Background(), store, "h/h.db", expectedSales(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatalf("missing table must fail validation: %+v", res)
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected at least one error")
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	store, _ := blobstore.NewFSStore(t.TempDir(), nil)
	uploadTestDB(t, store, "h/h.db", `CREATE TABLE sheet_sales (name TEXT, city INTEGER)`)

	res, err := Validate(context.Background(), store, "h/h.db", expectedSales(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatalf("type mismatch must fail validation: %+v", res)
	}
}

func TestSchemaFromMetadata(t *testing.T) {
	meta := &ingest.Metadata{
		Hash:   "abc",
		FileID: "f1",
		Tables: []ingest.TableRef{{Table: "sheet_sales", Sheet: "Sales"}},
		Schemas: map[string]string{
			"sheet_sales": "A table of sales figures.\n- name (TEXT): customer\n- city (TEXT): city\nTrailing prose.",
		},
	}
	s := SchemaFromMetadata(meta)
	if len(s.ExpectedTables) != 1 || s.ExpectedTables[0] != "sheet_sales" {
		t.Fatalf("tables = %v", s.ExpectedTables)
	}
	cols := s.ExpectedColumns["sheet_sales"]
	if len(cols) != 2 || cols[0] != "name" || cols[1] != "city" {
		t.Fatalf("columns = %v", cols)
	}
	if s.ExpectedTypes["sheet_sales"]["name"] != "TEXT" {
		t.Fatalf("types = %v", s.ExpectedTypes)
	}
}

func TestSchemaFromMetadataDriftedText(t *testing.T) {
	meta := &ingest.Metadata{
		Tables:  []ingest.TableRef{{Table: "sheet_x", Sheet: "X"}},
		Schemas: map[string]string{"sheet_x": "The model described this table in free prose without any list."},
	}
	s := SchemaFromMetadata(meta)
	// Best-effort parse: drifted text silently yields zero columns.
	if len(s.ExpectedColumns["sheet_x"]) != 0 {
		t.Fatalf("columns = %v", s.ExpectedColumns["sheet_x"])
	}
}

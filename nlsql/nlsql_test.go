package nlsql

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/horosheet/dbopen"
	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/queryrun"
)

type fakeClient struct {
	replies []string // JSON payloads returned in order
	prompts []string // prompts seen, in order
}

func (f *fakeClient) GenerateObject(ctx context.Context, prompt string, out any) error {
	f.prompts = append(f.prompts, prompt)
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return json.Unmarshal([]byte(reply), out)
}

func (f *fakeClient) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func testMeta() *ingest.Metadata {
	return &ingest.Metadata{
		Hash:   "abc",
		FileID: "f1",
		Tables: []ingest.TableRef{{Table: "sheet_sales", Sheet: "Sales"}},
		Schemas: map[string]string{
			"sheet_sales": "Sales figures.\n- name (TEXT): customer\n- city (TEXT): city",
		},
	}
}

func testEngine(t *testing.T) *queryrun.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.db")
	db, err := dbopen.Open(path,
		dbopen.WithSchema(`CREATE TABLE sheet_sales (name TEXT, city TEXT)`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO sheet_sales (name, city) VALUES ('Acme','Berlin')`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	engine, err := queryrun.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestGenerateFirstTry(t *testing.T) {
	client := &fakeClient{replies: []string{`{"sql":"SELECT name FROM source_db.sheet_sales"}`}}
	g := NewGenerator(client, nil)

	query, err := g.Generate(context.Background(),
		[]Message{{Role: "user", Content: "who are the customers?"}}, testMeta(), testEngine(t))
	if err != nil {
		t.Fatal(err)
	}
	if query != "SELECT name FROM source_db.sheet_sales" {
		t.Fatalf("query = %q", query)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(client.prompts))
	}
	p := client.prompts[0]
	if !strings.Contains(p, "sheet_sales") || !strings.Contains(p, "Sales") {
		t.Fatal("prompt must list tables with their worksheet names")
	}
	if !strings.Contains(p, "who are the customers?") {
		t.Fatal("prompt must embed the transcript")
	}
}

func TestGenerateRetryIsGrounded(t *testing.T) {
	bad := "SELECT customer_name FROM source_db.sheet_sales"
	good := "SELECT name FROM source_db.sheet_sales"
	client := &fakeClient{replies: []string{
		`{"sql":"` + bad + `"}`,
		`{"sql":"` + good + `"}`,
	}}
	g := NewGenerator(client, nil)

	query, err := g.Generate(context.Background(),
		[]Message{{Role: "user", Content: "customers?"}}, testMeta(), testEngine(t))
	if err != nil {
		t.Fatal(err)
	}
	if query != good {
		t.Fatalf("query = %q", query)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(client.prompts))
	}

	retry := client.prompts[1]
	if !strings.Contains(retry, bad) {
		t.Fatal("retry prompt must contain the failed query text")
	}
	if !strings.Contains(retry, "Acme") {
		t.Fatal("retry prompt must contain live sample data from the referenced table")
	}
	if !strings.Contains(retry, "no such column") {
		t.Fatal("retry prompt must contain the verbatim execution error")
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	client := &fakeClient{replies: []string{`{"sql":"SELECT nope FROM source_db.sheet_sales"}`}}
	g := NewGenerator(client, nil)

	_, err := g.Generate(context.Background(),
		[]Message{{Role: "user", Content: "?"}}, testMeta(), testEngine(t))
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	// 1 initial + DefaultRetries corrective attempts.
	if len(client.prompts) != DefaultRetries+1 {
		t.Fatalf("prompts = %d, want %d", len(client.prompts), DefaultRetries+1)
	}
}

func TestGenerateWithoutEngine(t *testing.T) {
	client := &fakeClient{replies: []string{`{"sql":"SELECT 1"}`}}
	g := NewGenerator(client, nil)

	query, err := g.Generate(context.Background(), nil, testMeta(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if query != "SELECT 1" {
		t.Fatalf("query = %q", query)
	}
}

func TestReferencedTables(t *testing.T) {
	meta := testMeta()
	got := referencedTables("select * from SOURCE_DB.SHEET_SALES limit 1", meta)
	if len(got) != 1 || got[0] != "sheet_sales" {
		t.Fatalf("got %v", got)
	}
	if tables := referencedTables("select 1", meta); len(tables) != 0 {
		t.Fatalf("got %v", tables)
	}
}

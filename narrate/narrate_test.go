package narrate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/queryrun"
)

type fakeClient struct {
	tokens    []string
	headers   []string
	objectErr error
	streamErr error
	prompt    string
}

func (f *fakeClient) GenerateObject(_ context.Context, prompt string, out any) error {
	if f.objectErr != nil {
		return f.objectErr
	}
	data, _ := json.Marshal(map[string]any{"headers": f.headers})
	return json.Unmarshal(data, out)
}

func (f *fakeClient) GenerateStream(_ context.Context, prompt string) (<-chan string, error) {
	f.prompt = prompt
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan string, len(f.tokens))
	for _, t := range f.tokens {
		ch <- t
	}
	close(ch)
	return ch, nil
}

func testResult() *queryrun.Result {
	return &queryrun.Result{
		Columns:   []string{"name", "col_2024_revenue"},
		Rows:      [][]string{{"Acme", "1200"}, {"Globex", "900"}},
		RowCount:  2,
		ElapsedMs: 7,
	}
}

func testMeta() *ingest.Metadata {
	return &ingest.Metadata{
		Hash:   "abc123def456",
		FileID: "file-1",
		Tables: []ingest.TableRef{{Table: "sheet_sales", Sheet: "Sales"}},
		Schemas: map[string]string{
			"sheet_sales": "Table sheet_sales: quarterly sales.\n- name (TEXT): Customer name\n- col_2024_revenue (TEXT): Revenue for 2024\n",
		},
	}
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestStreamOrdering(t *testing.T) {
	client := &fakeClient{
		tokens:  []string{"Two ", "customers."},
		headers: []string{"Customer name", "Revenue for 2024"},
	}
	n := NewNarrator(client, nil)

	chunks := collect(t, n.Stream(context.Background(), "SELECT * FROM source_db.sheet_sales", testResult(), testMeta()))
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	if chunks[0].Type != ChunkMetadata {
		t.Fatalf("first chunk = %s, want metadata", chunks[0].Type)
	}
	if chunks[0].RowCount != 2 || chunks[0].ElapsedMs != 7 {
		t.Errorf("metadata chunk = %+v", chunks[0])
	}
	if chunks[1].Type != ChunkText || chunks[2].Type != ChunkText {
		t.Errorf("middle chunks not text: %+v", chunks[1:3])
	}
	if got := chunks[1].Text + chunks[2].Text; got != "Two customers." {
		t.Errorf("narration = %q", got)
	}
	if chunks[len(chunks)-1].Type != ChunkDone {
		t.Errorf("last chunk = %s, want done", chunks[len(chunks)-1].Type)
	}
}

func TestStreamDoneWithoutTokens(t *testing.T) {
	client := &fakeClient{headers: []string{"Customer name", "Revenue for 2024"}}
	n := NewNarrator(client, nil)

	chunks := collect(t, n.Stream(context.Background(), "SELECT 1", testResult(), testMeta()))
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want metadata and done only", len(chunks))
	}
	if chunks[0].Type != ChunkMetadata || chunks[1].Type != ChunkDone {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestStreamStartFailureStillTerminates(t *testing.T) {
	client := &fakeClient{
		headers:   []string{"a", "b"},
		streamErr: errors.New("model unavailable"),
	}
	n := NewNarrator(client, nil)

	chunks := collect(t, n.Stream(context.Background(), "SELECT 1", testResult(), testMeta()))
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[1].Type != ChunkDone {
		t.Errorf("stream did not terminate with done: %+v", chunks)
	}
}

func TestHeaderFallbackToDescriptions(t *testing.T) {
	// Enrichment call fails; headers must come from the description text.
	client := &fakeClient{
		tokens:    []string{"ok"},
		objectErr: errors.New("model unavailable"),
	}
	n := NewNarrator(client, nil)

	collect(t, n.Stream(context.Background(), "SELECT * FROM source_db.sheet_sales", testResult(), testMeta()))
	if !strings.Contains(client.prompt, "Customer name") || !strings.Contains(client.prompt, "Revenue for 2024") {
		t.Errorf("prompt missing description-derived headers:\n%s", client.prompt)
	}
}

func TestHeaderFallbackToRawColumns(t *testing.T) {
	client := &fakeClient{
		tokens:    []string{"ok"},
		objectErr: errors.New("model unavailable"),
	}
	n := NewNarrator(client, nil)

	meta := testMeta()
	meta.Schemas["sheet_sales"] = "free text with no column lines"
	collect(t, n.Stream(context.Background(), "SELECT 1", testResult(), meta))
	if !strings.Contains(client.prompt, `"name"`) {
		t.Errorf("prompt missing raw column fallback:\n%s", client.prompt)
	}
}

func TestPromptRowTruncation(t *testing.T) {
	client := &fakeClient{tokens: []string{"ok"}, headers: []string{"n"}}
	n := NewNarrator(client, nil)

	res := &queryrun.Result{Columns: []string{"n"}, RowCount: 250}
	for i := 0; i < 250; i++ {
		res.Rows = append(res.Rows, []string{"x"})
	}
	chunks := collect(t, n.Stream(context.Background(), "SELECT 1", res, testMeta()))
	if chunks[0].RowCount != 250 {
		t.Errorf("metadata row count = %d, want true total 250", chunks[0].RowCount)
	}
	if !strings.Contains(client.prompt, "250 total, first 100 shown") {
		t.Errorf("prompt does not state truncation:\n%s", client.prompt)
	}
}

func TestStreamContextCancel(t *testing.T) {
	client := &fakeClient{tokens: []string{"a", "b", "c"}, headers: []string{"x", "y"}}
	n := NewNarrator(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := n.Stream(ctx, "SELECT 1", testResult(), nil)
	if c := <-ch; c.Type != ChunkMetadata {
		t.Fatalf("first chunk = %s", c.Type)
	}
	cancel()
	for range ch {
	}
}

// CLAUDE:SUMMARY Streaming narration of SQL results: one metadata chunk, incremental text, terminal done chunk.
// Package narrate streams a natural-language explanation of a query result.
//
// Stream is the one genuinely concurrent-with-consumer operation in
// horosheet: chunks are pushed over a channel as they arrive rather than
// buffered. The contract is strict — exactly one metadata chunk first
// (echoing the query, row count and timing), then zero or more text chunks,
// then one done chunk, then channel close. Consumers may start rendering
// before narration completes. The stream is finite and not restartable.
package narrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/llm"
	"github.com/hazyhaar/horosheet/queryrun"
)

// MaxPromptRows caps how many result rows are embedded in the narration
// prompt. The true total row count is always reported in the metadata chunk.
const MaxPromptRows = 100

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	ChunkMetadata ChunkType = "metadata"
	ChunkText     ChunkType = "text"
	ChunkDone     ChunkType = "done"
)

// Chunk is one element of the narration stream.
type Chunk struct {
	Type      ChunkType `json:"type"`
	Query     string    `json:"query,omitempty"`
	RowCount  int       `json:"row_count,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Narrator streams explanations of query results.
type Narrator struct {
	Client llm.Client
	Logger *slog.Logger
}

// NewNarrator creates a Narrator.
func NewNarrator(client llm.Client, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{Client: client, Logger: logger}
}

// Stream narrates the result of query. meta may be nil; it is used only to
// enrich result tuples with human column headers.
func (n *Narrator) Stream(ctx context.Context, query string, res *queryrun.Result, meta *ingest.Metadata) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)

		// Metadata strictly precedes any narration text.
		if !send(ctx, out, Chunk{
			Type:      ChunkMetadata,
			Query:     query,
			RowCount:  res.RowCount,
			ElapsedMs: res.ElapsedMs,
		}) {
			return
		}
		defer send(ctx, out, Chunk{Type: ChunkDone})

		headers := n.resolveHeaders(ctx, query, res, meta)
		prompt := narrationPrompt(query, headers, res)

		tokens, err := n.Client.GenerateStream(ctx, prompt)
		if err != nil {
			n.Logger.Warn("narration stream failed to start", "error", err)
			return
		}
		for tok := range tokens {
			if !send(ctx, out, Chunk{Type: ChunkText, Text: tok}) {
				return
			}
		}
	}()
	return out
}

func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveHeaders maps result columns to human-readable names. Three rungs:
// a collaborator call analyzing the SQL against the schema, then a regex
// extraction from the schema description text, then nothing — the rows are
// narrated as raw unlabeled tuples.
func (n *Narrator) resolveHeaders(ctx context.Context, query string, res *queryrun.Result, meta *ingest.Metadata) []string {
	if meta == nil {
		return res.Columns
	}

	prompt := fmt.Sprintf(`Given this SQL query and the schema descriptions below,
produce a short human-readable header for each result column, in SELECT order.

Query:
%s

Schema:
%s

Answer as JSON: {"headers": ["...", ...]} with exactly %d entries.`,
		query, schemasText(meta), len(res.Columns))

	var reply struct {
		Headers []string `json:"headers"`
	}
	if err := n.Client.GenerateObject(ctx, prompt, &reply); err == nil && len(reply.Headers) == len(res.Columns) {
		return reply.Headers
	}
	n.Logger.Debug("header enrichment fell back to description parse")

	if headers := headersFromDescriptions(meta, res.Columns); headers != nil {
		return headers
	}
	return res.Columns
}

func schemasText(meta *ingest.Metadata) string {
	var b strings.Builder
	for _, ref := range meta.Tables {
		fmt.Fprintf(&b, "### %s\n%s\n", ref.Table, meta.Schemas[ref.Table])
	}
	return b.String()
}

// descLineRe captures "- name (TYPE): meaning" lines from description text.
var descLineRe = regexp.MustCompile(`(?m)^\s*-\s*([A-Za-z_][A-Za-z0-9_]*)\s*\([A-Za-z]+\)\s*:\s*(.+)$`)

// headersFromDescriptions maps result columns to the meanings extracted
// from the schema description text. Returns nil if no column matched.
func headersFromDescriptions(meta *ingest.Metadata, columns []string) []string {
	meanings := make(map[string]string)
	for _, desc := range meta.Schemas {
		for _, m := range descLineRe.FindAllStringSubmatch(desc, -1) {
			meanings[m[1]] = strings.TrimSpace(m[2])
		}
	}

	matched := false
	headers := make([]string, len(columns))
	for i, c := range columns {
		if meaning, ok := meanings[c]; ok && meaning != "" {
			headers[i] = meaning
			matched = true
		} else {
			headers[i] = c
		}
	}
	if !matched {
		return nil
	}
	return headers
}

// narrationPrompt embeds up to MaxPromptRows rows; the true total is stated
// so the model does not invent a count.
func narrationPrompt(query string, headers []string, res *queryrun.Result) string {
	rows := res.Rows
	truncated := false
	if len(rows) > MaxPromptRows {
		rows = rows[:MaxPromptRows]
		truncated = true
	}

	data, err := json.Marshal(rows)
	if err != nil {
		data = []byte("[]")
	}
	headerJSON, _ := json.Marshal(headers)

	var b strings.Builder
	b.WriteString("Explain the result of this SQL query to a non-technical user, concisely.\n\n")
	fmt.Fprintf(&b, "Query:\n%s\n\nColumn headers:\n%s\n\nRows (%d total", query, headerJSON, res.RowCount)
	if truncated {
		fmt.Fprintf(&b, ", first %d shown", MaxPromptRows)
	}
	fmt.Fprintf(&b, "):\n%s\n\nDo not mention SQL or the query text; describe what the data says.", data)
	return b.String()
}

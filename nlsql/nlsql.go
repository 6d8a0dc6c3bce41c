// CLAUDE:SUMMARY NL-to-SQL generation with bounded retries grounded in live errors and data samples.
// Package nlsql turns a conversation about a workbook into a single SQL
// SELECT statement.
//
// The generator builds a schema-grounded prompt, asks the text-generation
// collaborator for one statement, and — when a live engine is supplied —
// immediately probes it. On execution failure it retries with corrective
// context: the failed query text, the verbatim engine error, and live sample
// rows from every table the failed query referenced. That grounding corrects
// the dominant model failure mode (plausible but non-existent column or
// table names) without unbounded looping.
package nlsql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/llm"
	"github.com/hazyhaar/horosheet/queryrun"
)

// DefaultRetries is how many corrective attempts follow the initial one.
const DefaultRetries = 2

// SampleLimit is how many rows per referenced table ground a retry.
const SampleLimit = 3

// Message is one turn of the conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces SQL from conversation history and schema metadata.
type Generator struct {
	Client     llm.Client
	MaxRetries int
	Logger     *slog.Logger
}

// NewGenerator creates a Generator with the default retry bound.
func NewGenerator(client llm.Client, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{Client: client, MaxRetries: DefaultRetries, Logger: logger}
}

type sqlReply struct {
	SQL string `json:"sql"`
}

// Generate returns one SQL SELECT statement answering the latest turn of
// history against the workbook described by meta.
//
// If engine is non-nil, each candidate statement is executed immediately;
// only a statement that runs is returned. Exhausting every retry re-raises
// the last execution error. Collaborator failures are not retried here —
// they surface directly.
func (g *Generator) Generate(ctx context.Context, history []Message, meta *ingest.Metadata, engine *queryrun.Engine) (string, error) {
	var (
		lastErr error
		failed  string
		samples map[string][]map[string]string
	)

	attempts := g.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		var prompt string
		if attempt == 0 {
			prompt = initialPrompt(meta, history)
		} else {
			prompt = retryPrompt(meta, history, failed, lastErr.Error(), samples)
		}

		var reply sqlReply
		if err := g.Client.GenerateObject(ctx, prompt, &reply); err != nil {
			return "", fmt.Errorf("nlsql: generate (attempt %d): %w", attempt, err)
		}
		query := strings.TrimSpace(reply.SQL)
		if query == "" {
			return "", fmt.Errorf("nlsql: model returned empty statement (attempt %d)", attempt)
		}

		if engine == nil {
			return query, nil
		}

		if _, err := engine.Execute(ctx, query); err != nil {
			g.Logger.Warn("generated query failed", "attempt", attempt, "error", err)
			lastErr = err
			failed = query
			// Ground the retries in live data once, from the first failure.
			if attempt == 0 {
				samples = g.collectSamples(ctx, engine, query, meta)
			}
			continue
		}
		return query, nil
	}

	return "", fmt.Errorf("nlsql: all %d attempts failed: %w", attempts, lastErr)
}

// collectSamples pulls up to SampleLimit rows from every table the failed
// query referenced. Best-effort: a table that cannot be sampled is skipped.
func (g *Generator) collectSamples(ctx context.Context, engine *queryrun.Engine, failedQuery string, meta *ingest.Metadata) map[string][]map[string]string {
	samples := make(map[string][]map[string]string)
	for _, table := range referencedTables(failedQuery, meta) {
		rows, err := engine.Samples(ctx, table, SampleLimit)
		if err != nil {
			g.Logger.Warn("sample collection failed", "table", table, "error", err)
			continue
		}
		samples[table] = rows
	}
	return samples
}

// referencedTables returns the known tables whose names appear in the query
// text. Parsing the failed query properly is pointless — it just failed —
// so a case-insensitive scan over the known table set is used instead.
func referencedTables(query string, meta *ingest.Metadata) []string {
	lower := strings.ToLower(query)
	var tables []string
	for _, ref := range meta.Tables {
		if strings.Contains(lower, strings.ToLower(ref.Table)) {
			tables = append(tables, ref.Table)
		}
	}
	return tables
}

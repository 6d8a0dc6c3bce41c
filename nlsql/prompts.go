// CLAUDE:SUMMARY Prompt construction for SQL generation: schema grounding, transcript, corrective retry context.
package nlsql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/queryrun"
)

// schemaSection renders the available tables and their description text.
func schemaSection(meta *ingest.Metadata) string {
	var b strings.Builder
	b.WriteString("Available tables (reference them as " + queryrun.Alias + ".<table>):\n")
	for _, ref := range meta.Tables {
		fmt.Fprintf(&b, "- %s (from worksheet %q)\n", ref.Table, ref.Sheet)
	}
	b.WriteString("\nSchema descriptions:\n")
	for _, ref := range meta.Tables {
		desc := meta.Schemas[ref.Table]
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", ref.Table, desc)
	}
	return b.String()
}

func transcriptSection(history []Message) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

const sqlRules = `Rules:
- Emit exactly ONE SQLite SELECT statement, nothing else.
- Reference every table through the ` + queryrun.Alias + ` alias.
- Use only the tables and columns listed in the schema above. Every column
  is TEXT; CAST when you need numeric comparison or aggregation.
- No INSERT, UPDATE, DELETE, DDL, or multiple statements.
- Answer as JSON: {"sql": "<the statement>"}`

// initialPrompt is the attempt-0 prompt: schema + transcript + rules.
func initialPrompt(meta *ingest.Metadata, history []Message) string {
	return fmt.Sprintf("You translate questions about spreadsheet data into SQLite SQL.\n\n%s\n%s\n%s",
		schemaSection(meta), transcriptSection(history), sqlRules)
}

// retryPrompt rebuilds the prompt with corrective context: the failed
// statement, the verbatim engine error, and live sample rows from the
// tables the failed statement referenced.
func retryPrompt(meta *ingest.Metadata, history []Message, failedSQL, execErr string, samples map[string][]map[string]string) string {
	var b strings.Builder
	b.WriteString("Your previous SQL statement failed. Produce a corrected one.\n\n")
	fmt.Fprintf(&b, "Failed statement:\n%s\n\nExecution error:\n%s\n", failedSQL, execErr)

	if len(samples) > 0 {
		b.WriteString("\nLive sample rows from the referenced tables (real column names and values):\n")
		for table, rows := range samples {
			data, err := json.Marshal(rows)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "\n%s:\n%s\n", table, data)
		}
	}

	fmt.Fprintf(&b, "\n%s\n%s\n%s", schemaSection(meta), transcriptSection(history), sqlRules)
	return b.String()
}

// CLAUDE:SUMMARY Best-effort LLM schema descriptions for loaded tables; degrades to placeholders, never fails.
package xlsxpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/horosheet/llm"
)

// DescribeSampleRows is how many rows are embedded in a description prompt.
const DescribeSampleRows = 5

// Describer produces human/LLM-readable schema descriptions for tables.
// Descriptions are best-effort documentation, not load-critical: any
// collaborator failure yields a degraded placeholder string, never an error.
type Describer struct {
	Client llm.Client
	Logger *slog.Logger
}

// NewDescriber creates a Describer. client may be nil, in which case every
// description is a placeholder.
func NewDescriber(client llm.Client, logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Describer{Client: client, Logger: logger}
}

// Describe returns a textual schema description of tableName built from up
// to DescribeSampleRows sample rows. Columns are the sanitized column names;
// the collaborator is instructed to use only those names and to describe
// every column as TEXT.
func (d *Describer) Describe(ctx context.Context, tableName string, columns []string, samples []map[string]string) string {
	if len(samples) == 0 {
		return fmt.Sprintf("Table %s: no data available.", tableName)
	}
	if d.Client == nil {
		return d.placeholder(tableName, columns)
	}

	if len(samples) > DescribeSampleRows {
		samples = samples[:DescribeSampleRows]
	}
	sampleJSON, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		d.Logger.Warn("describe: marshal samples", "table", tableName, "error", err)
		return d.placeholder(tableName, columns)
	}

	prompt := fmt.Sprintf(`Describe the database table %q for documentation purposes.

The table has exactly these columns, all of type TEXT:
%s

Sample rows:
%s

Rules:
- Refer to columns ONLY by the exact names listed above. Never invent names
  and never use the original spreadsheet headers.
- Describe every column as a string-typed (TEXT) field.
- Answer as JSON: {"description": "<one paragraph, then one line per column
  formatted as '- column_name (TEXT): meaning'>"}`,
		tableName, "- "+strings.Join(columns, "\n- "), sampleJSON)

	var out struct {
		Description string `json:"description"`
	}
	if err := d.Client.GenerateObject(ctx, prompt, &out); err != nil {
		d.Logger.Warn("describe: generation failed", "table", tableName, "error", err)
		return fmt.Sprintf("Table %s: description generation failed.", tableName)
	}
	if strings.TrimSpace(out.Description) == "" {
		return d.placeholder(tableName, columns)
	}
	return out.Description
}

func (d *Describer) placeholder(tableName string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s with columns:\n", tableName)
	for _, c := range columns {
		fmt.Fprintf(&b, "- %s (TEXT): \n", c)
	}
	return strings.TrimRight(b.String(), "\n ")
}

// CLAUDE:SUMMARY Metadata sidecar document describing one workbook database file.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
)

// TableRef pairs a derived table name with the worksheet it came from.
type TableRef struct {
	Table string `json:"table"`
	Sheet string `json:"sheet"`
}

// Metadata is the JSON sidecar describing one workbook database file. It is
// generated once after ingestion, persisted next to the database file, and
// downloaded on every later query to ground prompt construction.
type Metadata struct {
	Hash    string            `json:"hash"`
	FileID  string            `json:"file_id"`
	Tables  []TableRef        `json:"tables"`
	Schemas map[string]string `json:"schemas"`
}

// Write marshals the document to path.
func (m *Metadata) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("ingest: marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("ingest: write metadata: %w", err)
	}
	return nil
}

// ParseMetadata decodes a metadata document from raw bytes.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ingest: parse metadata: %w", err)
	}
	return &m, nil
}

// CLAUDE:SUMMARY Workbook lifecycle records in SQLite: created, processing, completed, failed, deletion_failed.
// Package filerec tracks the lifecycle state of uploaded workbooks.
//
// Each uploaded file gets one record keyed by its file ID. The state moves
// created -> processing -> completed | failed; deletions that leave orphaned
// artifacts land in deletion_failed so an operator can find them.
package filerec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/horosheet/dbopen"
)

// Workbook states.
const (
	StateCreated        = "created"
	StateProcessing     = "processing"
	StateCompleted      = "completed"
	StateFailed         = "failed"
	StateDeletionFailed = "deletion_failed"
)

// Record is one workbook's lifecycle row.
type Record struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name,omitempty"`
	Hash      string `json:"hash,omitempty"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Store persists workbook records.
type Store interface {
	Create(ctx context.Context, fileID, fileName, hash string) (*Record, error)
	Get(ctx context.Context, fileID string) (*Record, error)
	SetState(ctx context.Context, fileID, state, errMsg string) error
	Delete(ctx context.Context, fileID string) error
	List(ctx context.Context) ([]*Record, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS workbooks (
    file_id     TEXT PRIMARY KEY,
    file_name   TEXT,
    hash        TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'created',
    error       TEXT DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workbooks_state ON workbooks(state);
CREATE INDEX IF NOT EXISTS idx_workbooks_hash  ON workbooks(hash);
`

// SQLStore is the SQLite-backed Store.
type SQLStore struct {
	db *sql.DB
}

// OpenStore opens (or creates) the record database at path and runs migrations.
func OpenStore(path string) (*SQLStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("filerec: open: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// NewStore wraps an already-open database, running migrations on it.
// The caller keeps ownership of db; Close is a no-op on the connection.
func NewStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("filerec: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// Create inserts a new record in state created. Re-uploading an existing
// file ID resets its row so a fresh ingestion can supersede the old one.
func (s *SQLStore) Create(ctx context.Context, fileID, fileName, hash string) (*Record, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workbooks (file_id, file_name, hash, state, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
		   file_name = excluded.file_name,
		   hash = excluded.hash,
		   state = excluded.state,
		   error = '',
		   updated_at = excluded.updated_at`,
		fileID, fileName, hash, StateCreated, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("filerec: create %s: %w", fileID, err)
	}
	return &Record{FileID: fileID, FileName: fileName, Hash: hash, State: StateCreated, CreatedAt: ts, UpdatedAt: ts}, nil
}

// Get returns a record by file ID. Returns nil, nil if not found.
func (s *SQLStore) Get(ctx context.Context, fileID string) (*Record, error) {
	r := &Record{}
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, file_name, hash, state, error, created_at, updated_at
		 FROM workbooks WHERE file_id = ?`, fileID,
	).Scan(&r.FileID, &r.FileName, &r.Hash, &r.State, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filerec: get %s: %w", fileID, err)
	}
	return r, nil
}

// SetState moves a record to state, recording errMsg for failure states.
func (s *SQLStore) SetState(ctx context.Context, fileID, state, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workbooks SET state = ?, error = ?, updated_at = ? WHERE file_id = ?`,
		state, errMsg, now(), fileID,
	)
	if err != nil {
		return fmt.Errorf("filerec: set state %s: %w", fileID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("filerec: set state %s: no such record", fileID)
	}
	return nil
}

// Delete removes a record.
func (s *SQLStore) Delete(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workbooks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("filerec: delete %s: %w", fileID, err)
	}
	return nil
}

// List returns all records, most recently updated first.
func (s *SQLStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, file_name, hash, state, error, created_at, updated_at
		 FROM workbooks ORDER BY updated_at DESC, file_id`)
	if err != nil {
		return nil, fmt.Errorf("filerec: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.FileID, &r.FileName, &r.Hash, &r.State, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("filerec: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/horosheet/blobstore"
	"github.com/hazyhaar/horosheet/dbvalidate"
	"github.com/hazyhaar/horosheet/filerec"
	"github.com/hazyhaar/horosheet/idgen"
	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/kit"
	"github.com/hazyhaar/horosheet/nlsql"
	"github.com/hazyhaar/horosheet/observability"
	"github.com/hazyhaar/horosheet/safeio"
	"github.com/hazyhaar/horosheet/xlsxpipe"
)

// uploadResponse is returned after a successful ingestion.
type uploadResponse struct {
	FileID string `json:"file_id"`
	Hash   string `json:"hash"`
	Sheets int    `json:"sheets"`
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	maxBytes := int64(s.cfg.MaxUploadMB) << 20

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	fileID := r.FormValue("file_id")
	if fileID == "" {
		fileID = idgen.FileID()
	}
	if err := safeio.ValidateIdentifier(fileID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx = kit.WithFileID(ctx, fileID)

	data, err := safeio.LimitedReadAll(file, maxBytes)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	hash := ingest.Hash(fileID)
	if prev, err := s.records.Get(ctx, fileID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if prev != nil && prev.State == filerec.StateProcessing {
		writeError(w, http.StatusConflict, fmt.Errorf("workbook %s is being processed", fileID))
		return
	}
	if _, err := s.records.Create(ctx, fileID, header.Filename, hash); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.records.SetState(ctx, fileID, filerec.StateProcessing, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	res, err := s.ingestor.Ingest(ctx, data, fileID)
	if err != nil {
		s.failUpload(ctx, fileID, hash, err)
		writeError(w, ingestStatusCode(err), err)
		return
	}
	defer func() {
		for _, p := range []string{res.DatabaseFilePath, res.MetadataFilePath} {
			if err := os.Remove(p); err != nil {
				s.logger.Warn("ingest scratch cleanup failed", "path", p, "error", err)
			}
		}
	}()

	if err := s.uploadArtifacts(ctx, hash, res); err != nil {
		s.failUpload(ctx, fileID, hash, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.verifyUpload(ctx, fileID, hash, res)
	if err := s.records.SetState(ctx, fileID, filerec.StateCompleted, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	elapsed := time.Since(start)
	s.recordMetric(observability.MetricIngestDurationMs, float64(elapsed.Milliseconds()), "milliseconds")
	s.recordMetric(observability.MetricUploadBytes, float64(len(data)), "bytes")
	s.recordMetric(observability.MetricTablesCreated, float64(res.SheetsProcessed), "count")
	s.logEvent(ctx, observability.Event{
		EventType: observability.EventWorkbookIngested,
		FileID:    fileID,
		Hash:      hash,
		Success:   true,
	})
	s.auditOp(ctx, "ingest", "workbook_upload", fileID,
		map[string]any{"file_name": header.Filename, "bytes": len(data)},
		map[string]any{"sheets": res.SheetsProcessed}, nil, elapsed)

	writeJSON(w, http.StatusCreated, uploadResponse{
		FileID: fileID,
		Hash:   hash,
		Sheets: res.SheetsProcessed,
	})
}

// uploadArtifacts pushes the database and metadata files to the blob store.
func (s *Service) uploadArtifacts(ctx context.Context, hash string, res *ingest.Result) error {
	dbData, err := os.ReadFile(res.DatabaseFilePath)
	if err != nil {
		return fmt.Errorf("read ingested database: %w", err)
	}
	if err := s.blobs.Upload(ctx, dbKey(hash), dbData, blobstore.ContentTypeBinary); err != nil {
		return fmt.Errorf("upload database: %w", err)
	}
	metaData, err := os.ReadFile(res.MetadataFilePath)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if err := s.blobs.Upload(ctx, metaKey(hash), metaData, blobstore.ContentTypeJSON); err != nil {
		return fmt.Errorf("upload metadata: %w", err)
	}
	return nil
}

// verifyUpload checks the stored database against the metadata that was
// derived during ingestion. Drift is recorded, never fatal: the artifacts
// are already durable and a false positive must not block the upload.
func (s *Service) verifyUpload(ctx context.Context, fileID, hash string, res *ingest.Result) {
	report, err := dbvalidate.Validate(ctx, s.blobs, dbKey(hash), dbvalidate.SchemaFromMetadata(res.Metadata), s.logger)
	if err != nil {
		s.logger.Warn("post-upload validation skipped", "hash", hash, "error", err)
		return
	}
	if !report.Success {
		s.logger.Warn("schema drift in stored database", "hash", hash, "errors", report.Errors)
		s.logEvent(ctx, observability.Event{
			EventType: observability.EventSchemaDriftDetected,
			FileID:    fileID,
			Hash:      hash,
			Details:   jsonDetail("errors", fmt.Sprint(report.Errors)),
		})
	}
}

// failUpload marks the record failed and removes any blobs that were written
// before the failure. Compensation is best effort.
func (s *Service) failUpload(ctx context.Context, fileID, hash string, cause error) {
	if err := s.records.SetState(ctx, fileID, filerec.StateFailed, cause.Error()); err != nil {
		s.logger.Error("record failure state update failed", "file_id", fileID, "error", err)
	}
	if err := s.blobs.Delete(ctx, []string{dbKey(hash), metaKey(hash)}); err != nil {
		s.logger.Warn("compensating blob delete failed", "hash", hash, "error", err)
	}
	s.logEvent(ctx, observability.Event{
		EventType: observability.EventWorkbookFailed,
		FileID:    fileID,
		Hash:      hash,
		Details:   jsonDetail("error", cause.Error()),
	})
}

func ingestStatusCode(err error) int {
	if errors.Is(err, ingest.ErrDuplicateColumn) || errors.Is(err, ingest.ErrDuplicateTable) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, xlsxpipe.ErrBadWorkbook) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// chatRequest is one conversational query against an ingested workbook.
type chatRequest struct {
	FileID   string          `json:"file_id"`
	Messages []nlsql.Message `json:"messages"`
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("messages must not be empty"))
		return
	}

	rec, ok := s.completedRecord(ctx, w, req.FileID)
	if !ok {
		return
	}
	ctx = kit.WithFileID(ctx, req.FileID)

	meta, err := s.loadMetadata(ctx, rec.Hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	engine, cleanup, err := s.openEngine(ctx, rec.Hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer cleanup()

	query, err := s.sqlgen.Generate(ctx, req.Messages, meta, engine)
	if err != nil {
		s.auditOp(ctx, "nlsql", "sql_generate", req.FileID, nil, nil, err, time.Since(start))
		writeError(w, sqlStatusCode(err), err)
		return
	}
	result, err := engine.Execute(ctx, query)
	if err != nil {
		writeError(w, sqlStatusCode(err), err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for chunk := range s.narrator.Stream(ctx, query, result, meta) {
		data, err := json.Marshal(chunk)
		if err != nil {
			s.logger.Error("chunk marshal failed", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	elapsed := time.Since(start)
	s.recordMetric(observability.MetricQueryDurationMs, float64(elapsed.Milliseconds()), "milliseconds")
	s.recordMetric(observability.MetricQueryRows, float64(result.RowCount), "count")
	s.logEvent(ctx, observability.Event{
		EventType: observability.EventChatAnswered,
		FileID:    req.FileID,
		Hash:      rec.Hash,
		Details:   jsonDetail("rows", fmt.Sprint(result.RowCount)),
		Success:   true,
	})
	s.auditOp(ctx, "service", "chat", req.FileID,
		map[string]any{"turns": len(req.Messages)},
		map[string]any{"rows": result.RowCount}, nil, elapsed)
}

// queryRequest executes caller-provided SQL against an ingested workbook.
type queryRequest struct {
	FileID string `json:"file_id"`
	SQL    string `json:"sql"`
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	rec, ok := s.completedRecord(ctx, w, req.FileID)
	if !ok {
		return
	}

	engine, cleanup, err := s.openEngine(ctx, rec.Hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer cleanup()

	result, err := engine.Execute(ctx, req.SQL)
	if err != nil {
		s.auditOp(ctx, "queryrun", "sql_execute", req.FileID,
			map[string]any{"sql": req.SQL}, nil, err, time.Since(start))
		writeError(w, sqlStatusCode(err), err)
		return
	}

	s.recordMetric(observability.MetricQueryDurationMs, float64(time.Since(start).Milliseconds()), "milliseconds")
	s.logEvent(ctx, observability.Event{
		EventType: observability.EventQueryExecuted,
		FileID:    req.FileID,
		Hash:      rec.Hash,
		Success:   true,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileID := chi.URLParam(r, "fileID")

	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("workbook %s not found", fileID))
		return
	}

	entries, err := s.blobs.List(ctx, rec.Hash+"/")
	if err != nil {
		s.failDelete(ctx, fileID, rec.Hash, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	if err := s.blobs.Delete(ctx, keys); err != nil {
		s.failDelete(ctx, fileID, rec.Hash, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.records.Delete(ctx, fileID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logEvent(ctx, observability.Event{
		EventType: observability.EventWorkbookDeleted,
		FileID:    fileID,
		Hash:      rec.Hash,
		Success:   true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// failDelete leaves the record in deletion_failed so orphaned blobs are
// discoverable.
func (s *Service) failDelete(ctx context.Context, fileID, hash string, cause error) {
	if err := s.records.SetState(ctx, fileID, filerec.StateDeletionFailed, cause.Error()); err != nil {
		s.logger.Error("deletion_failed state update failed", "file_id", fileID, "error", err)
	}
	s.logEvent(ctx, observability.Event{
		EventType: observability.EventDeletionFailed,
		FileID:    fileID,
		Hash:      hash,
		Details:   jsonDetail("error", cause.Error()),
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	rec, err := s.records.Get(r.Context(), fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("workbook %s not found", fileID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// completedRecord resolves fileID to a completed workbook record, writing
// the appropriate error response otherwise.
func (s *Service) completedRecord(ctx context.Context, w http.ResponseWriter, fileID string) (*filerec.Record, bool) {
	if fileID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file_id is required"))
		return nil, false
	}
	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("workbook %s not found", fileID))
		return nil, false
	}
	if rec.State != filerec.StateCompleted {
		writeError(w, http.StatusConflict, fmt.Errorf("workbook %s is %s", fileID, rec.State))
		return nil, false
	}
	return rec, true
}

func (s *Service) auditOp(ctx context.Context, component, operation, fileID string, params, result any, err error, duration time.Duration) {
	if s.audit == nil {
		return
	}
	entry := s.audit.NewEntry(component, operation, params, result, err, duration)
	entry.RequestID = kit.GetRequestID(ctx)
	entry.FileID = fileID
	s.audit.LogAsync(entry)
}

func jsonDetail(key, value string) string {
	b, _ := json.Marshal(map[string]string{key: value})
	return string(b)
}

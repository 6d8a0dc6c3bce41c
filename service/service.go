// CLAUDE:SUMMARY HTTP/MCP orchestrator wiring ingest, storage, SQL generation and narration.
// Package service wires the ingestion and query pipelines behind a chi HTTP
// router and an MCP tool surface.
//
// Every query-side request gets its own private database instance: the
// workbook database is downloaded from the blob store to a scratch file,
// attached read-only under a fixed alias, and the temp file is removed when
// the request completes. Uploads use the lifecycle record as a soft gate
// against concurrent reprocessing of the same file.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/horosheet/blobstore"
	"github.com/hazyhaar/horosheet/filerec"
	"github.com/hazyhaar/horosheet/idgen"
	"github.com/hazyhaar/horosheet/ingest"
	"github.com/hazyhaar/horosheet/kit"
	"github.com/hazyhaar/horosheet/llm"
	"github.com/hazyhaar/horosheet/narrate"
	"github.com/hazyhaar/horosheet/nlsql"
	"github.com/hazyhaar/horosheet/observability"
	"github.com/hazyhaar/horosheet/queryrun"
	"github.com/hazyhaar/horosheet/xlsxpipe"
)

// Service is the horosheet orchestrator.
type Service struct {
	cfg      *Config
	records  filerec.Store
	blobs    blobstore.Store
	ingestor *ingest.Ingestor
	client   llm.Client
	narrator *narrate.Narrator
	sqlgen   *nlsql.Generator
	events   *observability.EventLogger
	audit    *observability.AuditLogger
	metrics  *observability.MetricsManager
	logger   *slog.Logger
	newReqID idgen.Generator
}

// Deps carries the collaborators a Service needs. Observability fields may
// be nil; the service then skips the corresponding recording.
type Deps struct {
	Records filerec.Store
	Blobs   blobstore.Store
	Client  llm.Client
	Events  *observability.EventLogger
	Audit   *observability.AuditLogger
	Metrics *observability.MetricsManager
	Logger  *slog.Logger
}

// New creates a Service from config and collaborators.
func New(cfg *Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	describer := xlsxpipe.NewDescriber(deps.Client, logger)
	ingestor := ingest.New(ingest.Config{
		WorkDir: cfg.WorkDir,
		Parse:   xlsxpipe.Config{MaxFileSize: int64(cfg.MaxUploadMB) << 20, Logger: logger},
		Logger:  logger,
	}, describer)

	sqlgen := nlsql.NewGenerator(deps.Client, logger)
	sqlgen.MaxRetries = cfg.SQLRetries

	return &Service{
		cfg:      cfg,
		records:  deps.Records,
		blobs:    deps.Blobs,
		ingestor: ingestor,
		client:   deps.Client,
		narrator: narrate.NewNarrator(deps.Client, logger),
		sqlgen:   sqlgen,
		events:   deps.Events,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   logger,
		newReqID: idgen.Prefixed("req_", idgen.Default),
	}
}

// Router builds the HTTP surface.
func (s *Service) Router(observDB *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(observability.HTTPLogMiddleware(observDB, s.logger))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/workbooks", s.handleUpload)
		r.Get("/workbooks/{fileID}", s.handleStatus)
		r.Delete("/workbooks/{fileID}", s.handleDelete)
		r.Post("/chat", s.handleChat)
		r.Post("/query", s.handleQuery)
		r.Get("/health", s.handleHealth)
	})
	return r
}

func (s *Service) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = s.newReqID()
		}
		ctx := kit.WithRequestID(r.Context(), id)
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Blob keys for a workbook hash.
func dbKey(hash string) string   { return hash + "/" + hash + ".db" }
func metaKey(hash string) string { return hash + "/" + hash + ".json" }

// openEngine downloads the workbook database for hash to a scratch file and
// opens a private query engine over it. The returned cleanup closes the
// engine and removes the temp file.
func (s *Service) openEngine(ctx context.Context, hash string) (*queryrun.Engine, func(), error) {
	data, err := s.blobs.Download(ctx, dbKey(hash))
	if err != nil {
		return nil, nil, fmt.Errorf("download database: %w", err)
	}

	dir := filepath.Join(s.cfg.WorkDir, "query")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("scratch dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, hash+"-*.db")
	if err != nil {
		return nil, nil, fmt.Errorf("scratch file: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("write scratch db: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return nil, nil, fmt.Errorf("close scratch db: %w", err)
	}

	engine, err := queryrun.Open(path, s.logger)
	if err != nil {
		os.Remove(path)
		return nil, nil, err
	}
	cleanup := func() {
		engine.Close()
		if err := os.Remove(path); err != nil {
			s.logger.Warn("scratch db cleanup failed", "path", path, "error", err)
		}
	}
	return engine, cleanup, nil
}

// loadMetadata fetches and parses the stored table metadata for hash.
func (s *Service) loadMetadata(ctx context.Context, hash string) (*ingest.Metadata, error) {
	data, err := s.blobs.Download(ctx, metaKey(hash))
	if err != nil {
		return nil, fmt.Errorf("download metadata: %w", err)
	}
	return ingest.ParseMetadata(data)
}

func (s *Service) logEvent(ctx context.Context, event observability.Event) {
	if s.events != nil {
		s.events.Log(ctx, event)
	}
}

func (s *Service) recordMetric(name string, value float64, unit string) {
	if s.metrics != nil {
		s.metrics.RecordSimple(name, value, unit)
	}
}

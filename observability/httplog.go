package observability

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/horosheet/kit"
)

// HTTPLogMiddleware records every request to the http_request_logs table and
// emits a structured access log line. Insert failures never fail the request.
func HTTPLogMiddleware(db *sql.DB, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			requestID := kit.GetRequestID(r.Context())
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", elapsed.Milliseconds(),
				"request_id", requestID,
			)
			if db == nil {
				return
			}
			go func() {
				_, err := db.Exec(`
					INSERT INTO http_request_logs (method, path, status_code, duration_ms, request_id, ip_address)
					VALUES (?,?,?,?,?,?)`,
					r.Method, r.URL.Path, ww.Status(), elapsed.Milliseconds(), requestID, r.RemoteAddr)
				if err != nil {
					logger.Warn("http log insert failed", "error", err)
				}
			}()
		})
	}
}

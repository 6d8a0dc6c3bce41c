// CLAUDE:SUMMARY Service entrypoint: config, observability, stores, LLM client, HTTP and MCP surfaces.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/horosheet/blobstore"
	"github.com/hazyhaar/horosheet/dbopen"
	"github.com/hazyhaar/horosheet/filerec"
	"github.com/hazyhaar/horosheet/llm"
	"github.com/hazyhaar/horosheet/observability"
	"github.com/hazyhaar/horosheet/service"
)

func main() {
	cfgPath := flag.String("config", "horosheet.yaml", "path to YAML config")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := service.LoadConfig(*cfgPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logger.Error("create work dir", "error", err)
		os.Exit(1)
	}

	// Observability DB is separate from the records DB to avoid write
	// contention.
	obsDB, err := dbopen.Open(cfg.ObservDB, dbopen.WithMkdirAll())
	if err != nil {
		logger.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		logger.Error("observability schema", "error", err)
		os.Exit(1)
	}

	audit := observability.NewAuditLogger(obsDB, 1000)
	defer audit.Close()
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(obsDB)

	heartbeat := observability.NewHeartbeatWriter(obsDB, "horosheet", 15*time.Second)
	heartbeat.Start(context.Background())
	defer heartbeat.Stop()

	records, err := filerec.OpenStore(cfg.RecordsDB)
	if err != nil {
		logger.Error("records store", "error", err)
		os.Exit(1)
	}
	defer records.Close()

	blobs, err := blobstore.NewFSStore(cfg.BlobRoot, logger)
	if err != nil {
		logger.Error("blob store", "error", err)
		os.Exit(1)
	}

	client := llm.New(llm.Config{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		Timeout:     cfg.LLM.Timeout,
		Logger:      logger,
	})

	svc := service.New(cfg, service.Deps{
		Records: records,
		Blobs:   blobs,
		Client:  client,
		Events:  events,
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention cleanup once at startup; long-running deployments can cron
	// the same via the observability package.
	if cfg.RetentionDays > 0 {
		if err := observability.Cleanup(ctx, obsDB, observability.RetentionConfig{
			HTTPLogsDays:   cfg.RetentionDays,
			EventsDays:     cfg.RetentionDays,
			AuditDays:      cfg.RetentionDays,
			MetricsDays:    cfg.RetentionDays,
			HeartbeatsDays: cfg.RetentionDays,
		}); err != nil {
			logger.Warn("retention cleanup", "error", err)
		}
	}

	if *mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "horosheet", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		logger.Info("serving MCP over stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			logger.Error("mcp server", "error", err)
			os.Exit(1)
		}
		return
	}

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: svc.Router(obsDB),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("horosheet listening", "addr", cfg.Listen)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/horosheet/dbopen"
	_ "modernc.org/sqlite"
)

func TestInitIdempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestEventLogger(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	l := NewEventLogger(db)

	l.Log(context.Background(), Event{
		EventType: EventWorkbookIngested,
		FileID:    "file-1",
		Hash:      "abc123def456",
		Success:   true,
	})

	var count int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM service_events WHERE event_type = ? AND file_id = ?`,
		EventWorkbookIngested, "file-1",
	).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestAuditSyncAndQuery(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	a := NewAuditLogger(db, 10)
	defer a.Close()

	ctx := context.Background()
	entry := a.NewEntry("ingest", "workbook_upload",
		map[string]string{"file_id": "file-1"}, map[string]int{"sheets": 3}, nil, 42*time.Millisecond)
	entry.FileID = "file-1"
	if err := a.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := a.Query(ctx, &AuditFilter{Component: "ingest", FileID: "file-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0].Status != "success" || got[0].DurationMs != 42 {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestAuditAsyncFlushOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	a := NewAuditLogger(db, 10)

	for i := 0; i < 5; i++ {
		a.LogAsync(a.NewEntry("queryrun", "sql_execute", nil, nil, nil, time.Millisecond))
	}
	a.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}

func TestAuditErrorEntry(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	a := NewAuditLogger(db, 10)
	defer a.Close()

	entry := a.NewEntry("nlsql", "sql_generate", nil, nil, context.DeadlineExceeded, time.Second)
	if entry.Status != "error" || entry.ErrorMessage == "" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestMetricsFlushAndQuery(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.RecordSimple(MetricIngestDurationMs, 120, "milliseconds")
	mm.Record(&Metric{
		Name:      MetricRowsIngested,
		Timestamp: time.Now(),
		Value:     57,
		Labels:    map[string]string{"table": "sheet_sales"},
		Unit:      "count",
	})
	mm.Close() // flushes

	got, err := mm.Query(MetricRowsIngested, nil, nil, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("metrics = %d, want 1", len(got))
	}
	if got[0].Value != 57 || got[0].Labels["table"] != "sheet_sales" {
		t.Errorf("metric = %+v", got[0])
	}
}

func TestHeartbeat(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	hw := NewHeartbeatWriter(db, "horosheet", time.Hour)
	if err := hw.WriteHeartbeat(); err != nil {
		t.Fatalf("WriteHeartbeat: %v", err)
	}

	hs, err := LatestHeartbeat(context.Background(), db, "horosheet", time.Minute)
	if err != nil {
		t.Fatalf("LatestHeartbeat: %v", err)
	}
	if hs == nil || !hs.Alive {
		t.Fatalf("status = %+v", hs)
	}
}

func TestLatestHeartbeatMissing(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	hs, err := LatestHeartbeat(context.Background(), db, "nobody", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs != nil {
		t.Fatalf("status = %+v, want nil", hs)
	}
}

func TestCleanup(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	// Seed one old event (40 days ago) and one fresh.
	old := time.Now().AddDate(0, 0, -40).Unix()
	db.Exec(`INSERT INTO service_events (event_id, event_type, success, created_at) VALUES ('e1', 'workbook_ingested', 1, ?)`, old)
	db.Exec(`INSERT INTO service_events (event_id, event_type, success, created_at) VALUES ('e2', 'workbook_ingested', 1, ?)`, time.Now().Unix())

	if err := Cleanup(context.Background(), db, RetentionConfig{EventsDays: 30}); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM service_events`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

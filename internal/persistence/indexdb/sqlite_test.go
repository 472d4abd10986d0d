package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/joonk7809/port-town-01/internal/persistence/snapshot"
	"github.com/joonk7809/port-town-01/internal/sim/catalogs"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
	"github.com/joonk7809/port-town-01/internal/telemetry"
)

func countRows(t *testing.T, db *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	return n
}

func TestSQLiteIndex_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(path, "run-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tune := tuning.Default()
	if err := idx.BeginRun(tune); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	cats := &catalogs.Catalogs{Commodities: catalogs.CommodityCatalog{
		Palette:       []string{"FISH"},
		PaletteDigest: "pal",
		DefsDigest:    "defs",
	}}
	if err := idx.UpsertCatalogs("", cats, tune); err != nil {
		t.Fatalf("upsert catalogs: %v", err)
	}

	_ = idx.WriteTick(world.TickLogEntry{Tick: 1, Digest: "d1", Total: 7000})
	_ = idx.WriteTick(world.TickLogEntry{Tick: 2, Digest: "d2", Total: 7000, Diagnostics: 2})
	_ = idx.WriteDiagnostic(model.Diagnostic{Tick: 2, Severity: model.SeverityWarn, Code: "A", Subject: "x", Message: "m"})
	_ = idx.WriteDiagnostic(model.Diagnostic{Tick: 2, Severity: model.SeverityInfo, Code: "B", Subject: "y", Message: "m"})
	_ = idx.WriteSample(telemetry.Sample{RunID: "run-1", Tick: 10, Price: 11, Total: 7000})
	idx.RecordSnapshot("snap/10.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, Tick: 10}, Digest: "d"})

	if err := idx.FinishRun(telemetry.Summary{RunID: "run-1", Ticks: 10, Passed: true}); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Writes after close are ignored.
	_ = idx.WriteTick(world.TickLogEntry{Tick: 3})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	if n := countRows(t, db, `SELECT COUNT(*) FROM ticks WHERE run_id=?`, "run-1"); n != 2 {
		t.Fatalf("ticks=%d want 2", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM diagnostics WHERE tick=2`); n != 2 {
		t.Fatalf("diagnostics=%d want 2", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM samples WHERE price=11`); n != 1 {
		t.Fatalf("samples=%d want 1", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM snapshots WHERE tick=10`); n != 1 {
		t.Fatalf("snapshots=%d want 1", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM runs WHERE passed=1 AND ticks=10`); n != 1 {
		t.Fatalf("finished runs=%d want 1", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM catalogs`); n != 2 {
		t.Fatalf("catalogs=%d want 2 (palette and tuning)", n)
	}
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	idx := &SQLiteIndex{runID: "r", ch: make(chan req, 1)}
	_ = idx.WriteTick(world.TickLogEntry{Tick: 1})
	_ = idx.WriteTick(world.TickLogEntry{Tick: 2})
	_ = idx.WriteSample(telemetry.Sample{Tick: 3})

	st := idx.Stats()
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if st.DropTickTotal != 1 || st.DropSampleTotal != 1 || st.DropDiagnosticTotal != 0 {
		t.Fatalf("drops=%+v", st)
	}
}

func TestOpenSQLite_RejectsEmptyArgs(t *testing.T) {
	if _, err := OpenSQLite("", "r"); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"), ""); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}

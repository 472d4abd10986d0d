package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joonk7809/port-town-01/internal/persistence/csvout"
	persistlog "github.com/joonk7809/port-town-01/internal/persistence/log"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
	"github.com/joonk7809/port-town-01/internal/telemetry"
)

func writeCSV(t *testing.T, rows ...telemetry.Sample) *bytes.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.csv")
	w, err := csvout.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, r := range rows {
		if err := w.WriteSample(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return bytes.NewReader(b)
}

func TestCheckCSV_Passes(t *testing.T) {
	th := tuning.Default().Telemetry.Thresholds
	r := writeCSV(t,
		telemetry.Sample{RunID: "r", Tick: 10, Price: 10, Total: 7000, Inflow: 0},
		telemetry.Sample{RunID: "r", Tick: 20, Price: 11, Total: 7010, Inflow: 10, StarvationRate: 0.1},
	)
	rep, err := checkCSV(r, th)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !rep.Passed || rep.Rows != 2 || rep.FinalPrice != 11 || rep.NetFlow != 10 {
		t.Fatalf("rep=%+v", rep)
	}
	if rep.MeanStarvation != 0.05 {
		t.Fatalf("mean starvation=%v", rep.MeanStarvation)
	}
}

func TestCheckCSV_FlagsResidualAndUnbackedDrift(t *testing.T) {
	th := tuning.Default().Telemetry.Thresholds
	r := writeCSV(t,
		telemetry.Sample{RunID: "r", Tick: 10, Total: 7000},
		telemetry.Sample{RunID: "r", Tick: 20, Total: 7005, Residual: -5},
	)
	rep, err := checkCSV(r, th)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Passed || rep.MaxAbsResidual != 5 || rep.MoneyDriftUnbacked != 5 {
		t.Fatalf("rep=%+v", rep)
	}
	joined := strings.Join(rep.Failures, "|")
	if !strings.Contains(joined, "money drift") {
		t.Fatalf("failures=%v", rep.Failures)
	}
}

func TestCheckCSV_Empty(t *testing.T) {
	r := writeCSV(t)
	if _, err := checkCSV(r, tuning.Thresholds{}); err == nil {
		t.Fatalf("expected error for empty csv")
	}
}

func TestVerifyTicks_ReplaysRecordedRun(t *testing.T) {
	tune := tuning.Default()
	tune.RunTicks = 0

	runDir := t.TempDir()
	rec, err := world.New(tune, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	tl := persistlog.NewTickLogger(runDir)
	rec.SetTickLogger(tl)
	rec.StepN(500)
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	replay, err := world.New(tune, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	checked, err := verifyTicks(replay, filepath.Join(runDir, "ticks"), 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checked != 500 {
		t.Fatalf("checked=%d want 500", checked)
	}

	other := tune
	other.Seed++
	diverged, err := world.New(other, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if _, err := verifyTicks(diverged, filepath.Join(runDir, "ticks"), 0); err == nil {
		t.Fatalf("expected digest mismatch for a different seed")
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "github.com/joonk7809/port-town-01/internal/persistence/log"
	"github.com/joonk7809/port-town-01/internal/persistence/snapshot"
	"github.com/joonk7809/port-town-01/internal/sim/catalogs"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
)

func main() {
	var (
		csvPath    = flag.String("csv", "", "telemetry CSV to check against thresholds")
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to inspect (optional)")
		ticksDir   = flag.String("ticks", "", "ticks dir containing ticks-*.jsonl.zst to verify by replay (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		toTick     = flag.Uint64("to_tick", 0, "stop verifying at tick (inclusive, optional)")
	)
	flag.Parse()

	if *csvPath == "" && *snapPath == "" && *ticksDir == "" {
		fmt.Fprintln(os.Stderr, "need at least one of -csv, -snapshot, -ticks")
		os.Exit(2)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Default()
	}

	failed := false

	var snap *snapshot.SnapshotV1
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		snap = &s
		fmt.Println(describeSnapshot(s, tune.Item))
		// The snapshot carries the run's effective seed and scenario.
		tune.Seed = s.Seed
		tune.Scenario.Kind = s.Scenario
		if s.TickRate > 0 {
			tune.TickRateHz = s.TickRate
		}
	}

	if *csvPath != "" {
		f, err := os.Open(*csvPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open csv:", err)
			os.Exit(1)
		}
		rep, err := checkCSV(f, tune.Telemetry.Thresholds)
		_ = f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, "check csv:", err)
			os.Exit(1)
		}
		b, _ := json.MarshalIndent(rep, "", "  ")
		fmt.Println(string(b))
		if !rep.Passed {
			failed = true
		}
	}

	if *ticksDir != "" {
		cats, err := catalogs.Load(*configDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load catalogs:", err)
			os.Exit(1)
		}
		w, err := world.New(tune, cats)
		if err != nil {
			fmt.Fprintln(os.Stderr, "world:", err)
			os.Exit(1)
		}
		checked, err := verifyTicks(w, *ticksDir, *toTick)
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if snap != nil && w.CurrentTick() == snap.Header.Tick && w.Metrics().Digest != snap.Digest {
			fmt.Fprintf(os.Stderr, "snapshot digest mismatch at tick %d\n", snap.Header.Tick)
			os.Exit(1)
		}
		fmt.Printf("replay ok: checked=%d ticks\n", checked)
	}

	if failed {
		os.Exit(1)
	}
}

// verifyTicks re-runs w alongside a recorded tick log and compares digests.
// Runs steered by an observer are not reproducible from the tick log alone.
func verifyTicks(w *world.World, dir string, toTick uint64) (uint64, error) {
	files, err := filepath.Glob(filepath.Join(dir, "ticks-*.jsonl.zst"))
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no tick files found in %s", dir)
	}

	var checked uint64
	errStop := fmt.Errorf("stop")
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var entry world.TickLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if toTick != 0 && entry.Tick > toTick {
				return errStop
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
			}
			tick, got := w.StepOnce()
			if got != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, got, entry.Digest)
			}
			checked++
			return nil
		})
		if err == errStop {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}

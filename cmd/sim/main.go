package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joonk7809/port-town-01/internal/persistence/csvout"
	"github.com/joonk7809/port-town-01/internal/persistence/indexdb"
	persistlog "github.com/joonk7809/port-town-01/internal/persistence/log"
	"github.com/joonk7809/port-town-01/internal/persistence/snapshot"
	"github.com/joonk7809/port-town-01/internal/sim/catalogs"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
	"github.com/joonk7809/port-town-01/internal/telemetry"
	"github.com/joonk7809/port-town-01/internal/transport/observer"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		runID      = flag.String("run", "", "run id (default: <scenario>-<seed>-<unix>)")
		scenario   = flag.String("scenario", "", "scenario override (baseline, funding_cut, supply_shock, windfall)")
		ticks      = flag.Uint64("ticks", 0, "run length override in ticks")
		paced      = flag.Bool("paced", false, "pace ticks at tick_rate_hz instead of running headless")
		obsAddr    = flag.String("observer", "", "loopback observer listen address, e.g. 127.0.0.1:8081 (empty to disable)")
		disableDB  = flag.Bool("disable_db", false, "disable the SQLite index")
		csvPath    = flag.String("csv", "", "telemetry CSV path (default: <run dir>/samples.csv)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sim] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Default()
	}

	// Precedence: file < environment < flags.
	envCfg, err := tuning.ParseEnv()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	envCfg.Apply(&tune)
	if *scenario != "" {
		tune.Scenario.Kind = *scenario
	}
	if *ticks != 0 {
		tune.RunTicks = *ticks
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	if envCfg.DataDir != "" && !flagSet("data") {
		*dataDir = envCfg.DataDir
	}
	if envCfg.ObserverAddr != "" && !flagSet("observer") {
		*obsAddr = envCfg.ObserverAddr
	}

	id := strings.TrimSpace(*runID)
	if id == "" {
		kind := tune.Scenario.Kind
		if kind == "" {
			kind = "baseline"
		}
		id = fmt.Sprintf("%s-%d-%d", kind, tune.Seed, time.Now().Unix())
	}
	runDir := filepath.Join(*dataDir, "runs", id)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("create run dir: %v", err)
	}

	w, err := world.New(tune, cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "runs.sqlite"), id)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.BeginRun(tune); err != nil {
			logger.Printf("index: begin run: %v", err)
		}
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	tickLog := persistlog.NewTickLogger(runDir)
	diagLog := persistlog.NewDiagnosticLogger(runDir)
	sampleLog := persistlog.NewSampleLogger(runDir)
	defer tickLog.Close()
	defer diagLog.Close()
	defer sampleLog.Close()

	cp := strings.TrimSpace(*csvPath)
	if cp == "" {
		cp = filepath.Join(runDir, "samples.csv")
	}
	csvw, err := csvout.Open(cp)
	if err != nil {
		logger.Fatalf("open csv: %v", err)
	}
	defer csvw.Close()

	sinks := []telemetry.Sink{csvw, sampleLog}
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		w.SetDiagnosticLogger(multiDiagnosticLogger{a: diagLog, b: idx})
		sinks = append(sinks, idx)
	} else {
		w.SetTickLogger(tickLog)
		w.SetDiagnosticLogger(diagLog)
	}
	sampler := telemetry.NewSampler(id, tune.Telemetry.SampleEveryTicks, sinks...)
	w.OnMetrics(sampler.Observe)

	ctx, cancel := signalContext()
	defer cancel()

	if addr := strings.TrimSpace(*obsAddr); addr != "" {
		srv := startObserver(ctx, addr, w, logger)
		defer srv.Close()
	}

	logger.Printf("run=%s scenario=%s seed=%d ticks=%d paced=%v dir=%s", id, tune.Scenario.Kind, tune.Seed, tune.RunTicks, *paced, runDir)
	started := time.Now()
	if *paced {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	} else {
		w.StepN(tune.RunTicks)
	}
	logger.Printf("ran %d ticks in %s", w.CurrentTick(), time.Since(started).Round(time.Millisecond))

	snap := w.ExportSnapshot(id)
	snapPath := filepath.Join(runDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
	if err := snapshot.WriteSnapshot(snapPath, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
	} else if idx != nil {
		idx.RecordSnapshot(snapPath, snap)
	}

	sum := sampler.Summarize(tune.Telemetry.Thresholds)
	if idx != nil {
		if err := idx.FinishRun(sum); err != nil {
			logger.Printf("index: finish run: %v", err)
		}
		if st := idx.Stats(); st.DropTickTotal+st.DropDiagnosticTotal+st.DropSampleTotal > 0 {
			logger.Printf("index dropped rows: %+v", st)
		}
	}

	b, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(b))
	if !sum.Passed {
		logger.Printf("run failed: %s", strings.Join(sum.Failures, "; "))
		// Deferred closers must flush before exit.
		cs := []closer{csvw, tickLog, diagLog, sampleLog}
		if idx != nil {
			cs = append(cs, idx)
		}
		closeAll(cs...)
		os.Exit(1)
	}
}

func startObserver(ctx context.Context, addr string, w *world.World, logger *log.Logger) *http.Server {
	obs := observer.NewServer(w, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writePromMetrics(rw, w.Metrics())
	})
	mux.HandleFunc("/v1/metrics/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/metrics/ws", obs.WSHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		logger.Printf("observer listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("observer: %v", err)
		}
	}()
	return srv
}

// writePromMetrics emits a minimal Prometheus exposition of the money and
// stock pools.
func writePromMetrics(rw http.ResponseWriter, m world.WorldMetrics) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(rw, "# HELP port_town_tick Completed ticks.\n")
	fmt.Fprintf(rw, "# TYPE port_town_tick gauge\n")
	fmt.Fprintf(rw, "port_town_tick %d\n", m.Tick)

	fmt.Fprintf(rw, "# HELP port_town_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE port_town_step_ms gauge\n")
	fmt.Fprintf(rw, "port_town_step_ms %.3f\n", m.StepMS)

	fmt.Fprintf(rw, "# HELP port_town_money Coins by pool.\n")
	fmt.Fprintf(rw, "# TYPE port_town_money gauge\n")
	fmt.Fprintf(rw, "port_town_money{pool=%q} %d\n", "wallets", m.Money.Wallets)
	fmt.Fprintf(rw, "port_town_money{pool=%q} %d\n", "escrow", m.Money.Escrow)
	fmt.Fprintf(rw, "port_town_money{pool=%q} %d\n", "budget", m.Money.Budget)
	fmt.Fprintf(rw, "port_town_money{pool=%q} %d\n", "total", m.Money.Total)

	fmt.Fprintf(rw, "# HELP port_town_money_flow_total Lifetime minted and burned coins.\n")
	fmt.Fprintf(rw, "# TYPE port_town_money_flow_total counter\n")
	fmt.Fprintf(rw, "port_town_money_flow_total{dir=%q} %d\n", "inflow", m.Money.Inflow)
	fmt.Fprintf(rw, "port_town_money_flow_total{dir=%q} %d\n", "outflow", m.Money.Outflow)

	fmt.Fprintf(rw, "# HELP port_town_stock Units of the tracked item by location.\n")
	fmt.Fprintf(rw, "# TYPE port_town_stock gauge\n")
	fmt.Fprintf(rw, "port_town_stock{item=%q,at=%q} %d\n", m.Stock.Item, "on_order", m.Stock.OnOrder)
	fmt.Fprintf(rw, "port_town_stock{item=%q,at=%q} %d\n", m.Stock.Item, "vendor", m.Stock.VendorHand)
	fmt.Fprintf(rw, "port_town_stock{item=%q,at=%q} %d\n", m.Stock.Item, "ask_escrow", m.Stock.AskEscrow)
	fmt.Fprintf(rw, "port_town_stock{item=%q,at=%q} %d\n", m.Stock.Item, "buyer", m.Stock.BuyerHand)

	fmt.Fprintf(rw, "# HELP port_town_price Posted price per item.\n")
	fmt.Fprintf(rw, "# TYPE port_town_price gauge\n")
	for item, p := range m.Prices {
		fmt.Fprintf(rw, "port_town_price{item=%q} %d\n", item, p)
	}

	fmt.Fprintf(rw, "# HELP port_town_audit_residual Last audit residual.\n")
	fmt.Fprintf(rw, "# TYPE port_town_audit_residual gauge\n")
	fmt.Fprintf(rw, "port_town_audit_residual %d\n", m.Audit.Residual)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

type closer interface{ Close() error }

func closeAll(cs ...closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiDiagnosticLogger struct {
	a world.DiagnosticLogger
	b world.DiagnosticLogger
}

func (m multiDiagnosticLogger) WriteDiagnostic(d model.Diagnostic) error {
	if m.a != nil {
		_ = m.a.WriteDiagnostic(d)
	}
	if m.b != nil {
		_ = m.b.WriteDiagnostic(d)
	}
	return nil
}

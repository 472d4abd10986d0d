package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joonk7809/port-town-01/internal/persistence/snapshot"
	"github.com/joonk7809/port-town-01/internal/sim/catalogs"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
	"github.com/joonk7809/port-town-01/internal/telemetry"
)

// SQLiteIndex is a queryable read-model of one or more runs. Writes are
// queued and applied by a single goroutine; the JSONL logs stay the source of
// truth, so a full queue drops rows instead of stalling the simulation.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick       atomic.Uint64
	dropDiagnostic atomic.Uint64
	dropSample     atomic.Uint64
	dropSnapshot   atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqDiagnostic
	reqSample
	reqSnapshot
)

type req struct {
	kind reqKind

	tick       world.TickLogEntry
	diagnostic model.Diagnostic
	sample     telemetry.Sample
	snapshot   snapshotRow
}

type snapshotRow struct {
	Tick         uint64
	Path         string
	Digest       string
	Money        int64
	Participants int
	Orders       int
}

type QueueStats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropTickTotal       uint64 `json:"drop_tick_total"`
	DropDiagnosticTotal uint64 `json:"drop_diagnostic_total"`
	DropSampleTotal     uint64 `json:"drop_sample_total"`
	DropSnapshotTotal   uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			scenario TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			ticks INTEGER,
			passed INTEGER,
			summary_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			total INTEGER NOT NULL,
			diagnostics INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			severity TEXT NOT NULL,
			code TEXT NOT NULL,
			subject TEXT NOT NULL,
			message TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_code_tick ON diagnostics(code, tick);`,
		`CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			price INTEGER NOT NULL,
			total INTEGER NOT NULL,
			residual INTEGER NOT NULL,
			starvation_rate REAL NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			money INTEGER NOT NULL,
			participants INTEGER NOT NULL,
			orders INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropTickTotal:       s.dropTick.Load(),
		DropDiagnosticTotal: s.dropDiagnostic.Load(),
		DropSampleTotal:     s.dropSample.Load(),
		DropSnapshotTotal:   s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry}, &s.dropTick)
	return nil
}

func (s *SQLiteIndex) WriteDiagnostic(d model.Diagnostic) error {
	s.enqueue(req{kind: reqDiagnostic, diagnostic: d}, &s.dropDiagnostic)
	return nil
}

func (s *SQLiteIndex) WriteSample(smp telemetry.Sample) error {
	s.enqueue(req{kind: reqSample, sample: smp}, &s.dropSample)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	r := snapshotRow{
		Tick:         snap.Header.Tick,
		Path:         path,
		Digest:       snap.Digest,
		Money:        snap.MoneySupply(),
		Participants: len(snap.Participants),
		Orders:       len(snap.Orders),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// BeginRun records the run row synchronously so later rows have a parent.
func (s *SQLiteIndex) BeginRun(tune tuning.Tuning) error {
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs(run_id,seed,scenario,tuning_digest,started_at) VALUES(?,?,?,?,?)`,
		s.runID, tune.Seed, tune.Scenario.Kind, hex.EncodeToString(sum[:]), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// FinishRun stores the verdict. Queued rows are not waited for; call Close
// to flush them.
func (s *SQLiteIndex) FinishRun(sum telemetry.Summary) error {
	b, _ := json.Marshal(sum)
	passed := 0
	if sum.Passed {
		passed = 1
	}
	_, err := s.db.Exec(`UPDATE runs SET finished_at=?, ticks=?, passed=?, summary_json=? WHERE run_id=?`,
		time.Now().UTC().Format(time.RFC3339Nano), int64(sum.Ticks), passed, string(b), s.runID)
	return err
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "commodities.json")); err == nil {
			rows = append(rows, kv{name: "commodities_defs", digest: cats.Commodities.DefsDigest, json: b})
		}
	}
	if b, _ := json.Marshal(cats.Commodities.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "commodities_palette", digest: cats.Commodities.PaletteDigest, json: b})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,digest,total,diagnostics) VALUES(?,?,?,?,?)`)
	insertDiag, _ := s.db.Prepare(`INSERT OR REPLACE INTO diagnostics(run_id,tick,seq,severity,code,subject,message,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertSample, _ := s.db.Prepare(`INSERT OR REPLACE INTO samples(run_id,tick,price,total,residual,starvation_rate,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,tick,path,digest,money,participants,orders) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertDiag, insertSample, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastDiagTick uint64
		diagSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			exec(insertTick, s.runID, int64(e.Tick), e.Digest, e.Total, e.Diagnostics)

		case reqDiagnostic:
			d := r.diagnostic
			if d.Tick != lastDiagTick {
				lastDiagTick = d.Tick
				diagSeq = 0
			}
			seq := diagSeq
			diagSeq++
			raw, _ := json.Marshal(d)
			exec(insertDiag, s.runID, int64(d.Tick), seq, string(d.Severity), d.Code, d.Subject, d.Message, string(raw))

		case reqSample:
			smp := r.sample
			raw, _ := json.Marshal(smp)
			exec(insertSample, s.runID, int64(smp.Tick), smp.Price, smp.Total, smp.Residual, smp.StarvationRate, string(raw))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, s.runID, int64(sn.Tick), sn.Path, sn.Digest, sn.Money, sn.Participants, sn.Orders)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

package world

import (
	"context"
	"testing"
	"time"

	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

type memTicks struct{ entries []TickLogEntry }

func (m *memTicks) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type memDiags struct{ diags []model.Diagnostic }

func (m *memDiags) WriteDiagnostic(d model.Diagnostic) error {
	m.diags = append(m.diags, d)
	return nil
}

func newTestWorld(t *testing.T, mut func(*tuning.Tuning)) *World {
	t.Helper()
	cfg := tuning.Default()
	cfg.Seed = 99
	if mut != nil {
		mut(&cfg)
	}
	w, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func TestNew_PipelineOrder(t *testing.T) {
	w := newTestWorld(t, nil)
	want := []string{"scenario", "trader", "market.match", "market.cleanup", "restock", "pricing", "budget", "audit", "guardrail"}
	got := w.SystemNames()
	if len(got) != len(want) {
		t.Fatalf("systems=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("systems[%d]=%s want %s", i, got[i], want[i])
		}
	}
}

func TestNew_GenesisIsNotAnInflow(t *testing.T) {
	w := newTestWorld(t, nil)
	l := w.State().Ledger
	if got := l.Balance(ledger.BudgetAccount); got != 5000 {
		t.Fatalf("budget=%d want 5000", got)
	}
	if l.Inflow() != 0 || l.Outflow() != 0 {
		t.Fatalf("genesis counted as flow: in=%d out=%d", l.Inflow(), l.Outflow())
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := tuning.Default()
	cfg.Vendor = "GHOST"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for unknown vendor")
	}

	cfg = tuning.Default()
	cfg.Restock.UnitCost = "-3"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for negative wholesale cost")
	}
}

func TestStep_SameSeedSameDigest(t *testing.T) {
	a := newTestWorld(t, nil)
	b := newTestWorld(t, nil)
	for i := 0; i < 2000; i++ {
		ta, da := a.StepOnce()
		tb, db := b.StepOnce()
		if ta != tb || da != db {
			t.Fatalf("diverged at tick %d: %s vs %s", ta, da, db)
		}
	}
	c := newTestWorld(t, func(cfg *tuning.Tuning) { cfg.Seed = 100 })
	if c.StepN(2000) == a.Metrics().Digest {
		t.Fatalf("different seeds produced the same run")
	}
}

func TestStep_ConservesMoneyAndGoods(t *testing.T) {
	w := newTestWorld(t, nil)
	s := w.State()
	startMoney := s.Ledger.Total()
	startFish := totalItem(s, "FISH")

	w.StepN(6000)

	l := s.Ledger
	if got, want := l.Total(), startMoney+l.Inflow()-l.Outflow(); got != want {
		t.Fatalf("money=%d want %d (in=%d out=%d)", got, want, l.Inflow(), l.Outflow())
	}
	_, delivered := w.restock.Totals()
	if got, want := totalItem(s, "FISH")+s.Consumed["FISH"], startFish+delivered; got != want {
		t.Fatalf("fish=%d want %d", got, want)
	}
	m := w.Metrics()
	if m.AuditResiduals != 0 || m.Audit.Residual != 0 {
		t.Fatalf("audit residuals=%d last=%+v", m.AuditResiduals, m.Audit)
	}
	if m.Money.Overdrafts != 0 {
		t.Fatalf("overdrafts=%d", m.Money.Overdrafts)
	}
	if m.StatsLifetime.Trades == 0 {
		t.Fatalf("no trades in 6000 ticks")
	}
}

func TestStep_NothingNegativeAfterGuardrail(t *testing.T) {
	w := newTestWorld(t, nil)
	s := w.State()
	w.StepN(50)

	// Corrupt state the way a buggy pass would.
	s.Participant("BUYER").Inventory.Items["FISH"] = -4
	for _, o := range s.Book("FISH").Asks {
		o.EscrowItems = -1
	}
	w.StepOnce()

	for _, id := range s.SortedParticipantIDs() {
		for item, n := range s.Participants[id].Inventory.Items {
			if n < 0 {
				t.Fatalf("%s holds %d %s", id, n, item)
			}
		}
	}
	for _, b := range s.Books {
		for _, o := range b.Asks {
			if o.EscrowItems < 0 {
				t.Fatalf("ask %s escrow=%d", o.ID, o.EscrowItems)
			}
		}
		for _, o := range b.Bids {
			if bal := s.Ledger.Balance(o.EscrowAccount()); bal < 0 {
				t.Fatalf("bid %s escrow=%d", o.ID, bal)
			}
		}
	}
}

func TestStep_FlushesLoggers(t *testing.T) {
	w := newTestWorld(t, func(cfg *tuning.Tuning) { cfg.Scenario.Kind = "meteor" })
	ticks := &memTicks{}
	diags := &memDiags{}
	w.SetTickLogger(ticks)
	w.SetDiagnosticLogger(diags)
	w.StepN(3)

	if len(ticks.entries) != 3 || ticks.entries[2].Tick != 2 {
		t.Fatalf("tick entries=%+v", ticks.entries)
	}
	if ticks.entries[2].Digest != w.Metrics().Digest {
		t.Fatalf("logged digest differs from metrics")
	}
	found := false
	for _, d := range diags.diags {
		if d.Code == "SCENARIO_UNKNOWN" && d.Tick == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("diagnostics=%+v", diags.diags)
	}
	if len(w.State().PendingDiagnostics()) != 0 {
		t.Fatalf("diagnostics left in buffer")
	}
}

func TestSetInRange_AppliesNextTick(t *testing.T) {
	w := newTestWorld(t, nil)
	if err := w.SetInRange("BUYER", false); err != nil {
		t.Fatalf("set in range: %v", err)
	}
	if !w.State().Participant("BUYER").InRange {
		t.Fatalf("applied before the tick boundary")
	}
	w.StepN(20)
	if w.State().Participant("BUYER").InRange {
		t.Fatalf("in range flag not applied")
	}
	if n := w.State().Book("FISH").OpenBidsOf("BUYER"); n != 0 {
		t.Fatalf("out of range buyer has %d bids", n)
	}
}

func TestLeave_DanglingOrdersUnwind(t *testing.T) {
	w := newTestWorld(t, nil)
	s := w.State()
	w.StepN(1)
	if s.Book("FISH").AskEscrowOf("VENDOR") == 0 {
		t.Fatalf("vendor has no ask after the first tick")
	}
	startMoney := s.Ledger.Total()
	if err := w.Leave("VENDOR"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	w.StepN(30)
	if s.Participant("VENDOR") != nil {
		t.Fatalf("vendor still present")
	}
	if n := s.Book("FISH").AskEscrowOf("VENDOR"); n != 0 {
		t.Fatalf("dangling ask escrow=%d", n)
	}
	if s.Facilities[model.UnclaimedFacility].Inventory.Count("FISH") == 0 {
		t.Fatalf("dangling items not parked in the unclaimed facility")
	}
	l := s.Ledger
	if l.Total() != startMoney+l.Inflow()-l.Outflow() {
		t.Fatalf("money not conserved across departure")
	}
}

func TestExportSnapshot(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepN(300)
	snap := w.ExportSnapshot("run-test")
	if snap.Header.Tick != 300 || snap.Header.RunID != "run-test" {
		t.Fatalf("header=%+v", snap.Header)
	}
	if snap.MoneySupply() != w.State().Ledger.Total() {
		t.Fatalf("snapshot money=%d ledger=%d", snap.MoneySupply(), w.State().Ledger.Total())
	}
	if snap.Digest != w.Metrics().Digest || snap.Scenario != "baseline" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestRun_StopsAtRunTicks(t *testing.T) {
	w := newTestWorld(t, func(cfg *tuning.Tuning) {
		cfg.TickRateHz = 1000
		cfg.RunTicks = 20
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := w.Metrics().Tick; got != 20 {
		t.Fatalf("tick=%d want 20", got)
	}
}

func TestRun_Stop(t *testing.T) {
	w := newTestWorld(t, func(cfg *tuning.Tuning) { cfg.RunTicks = 0 })
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	w.Stop()
	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func totalItem(s *model.State, item string) int {
	n := 0
	for _, id := range s.SortedParticipantIDs() {
		n += s.Participants[id].Inventory.Count(item)
	}
	for _, id := range s.SortedFacilityIDs() {
		n += s.Facilities[id].Inventory.Count(item)
	}
	if b, ok := s.Books[item]; ok {
		n += b.AskEscrow()
	}
	return n
}

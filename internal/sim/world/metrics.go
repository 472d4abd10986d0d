package world

import (
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/audit"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/guardrail"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/pricing"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/stats"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

// WorldMetrics is a thread-safe read-only view of key economy signals.
// It is updated from the world loop goroutine and read from pollers.
type WorldMetrics struct {
	// Tick is the number of ticks completed.
	Tick       uint64  `json:"tick"`
	TickRateHz int     `json:"tick_rate_hz"`
	StepMS     float64 `json:"step_ms"`
	Digest     string  `json:"digest"`

	Money MoneyMetrics `json:"money"`
	Stock StockMetrics `json:"stock"`

	Prices  map[string]int64 `json:"prices"`
	Pricing pricing.State    `json:"pricing"`
	Demand  model.DemandView `json:"demand"`
	Audit   model.AuditView  `json:"audit"`

	OpenBids          int `json:"open_bids"`
	OpenAsks          int `json:"open_asks"`
	PendingDeliveries int `json:"pending_deliveries"`

	StatsWindowTicks uint64       `json:"stats_window_ticks"`
	StatsWindow      stats.Bucket `json:"stats_window"`
	StatsLifetime    stats.Bucket `json:"stats_lifetime"`

	Repairs          guardrail.Repairs `json:"repairs"`
	AuditResiduals   int               `json:"audit_residuals"`
	AuditViolations  int               `json:"audit_violations"`
	DiagnosticsTotal uint64            `json:"diagnostics_total"`
	LogErrors        uint64            `json:"log_errors"`
}

type MoneyMetrics struct {
	Wallets    int64  `json:"wallets"`
	Escrow     int64  `json:"escrow"`
	Budget     int64  `json:"budget"`
	Total      int64  `json:"total"`
	Inflow     int64  `json:"inflow"`
	Outflow    int64  `json:"outflow"`
	Overdrafts uint64 `json:"overdrafts"`
}

type StockMetrics struct {
	Item       string `json:"item"`
	OnOrder    int    `json:"on_order"`
	VendorHand int    `json:"vendor_hand"`
	AskEscrow  int    `json:"ask_escrow"`
	BuyerHand  int    `json:"buyer_hand"`
	Consumed   int    `json:"consumed"`
	Unclaimed  int    `json:"unclaimed"`
	Blocked    bool   `json:"blocked"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(nowTick uint64, stepMS float64) {
	s := w.state
	l := s.Ledger
	pools := audit.Observe(l)

	st := w.auditor.CurrentStages(s)
	stock := StockMetrics{
		Item:       w.cfg.Item,
		OnOrder:    st.OnOrder,
		VendorHand: st.VendorHand,
		AskEscrow:  st.AskEscrow,
		BuyerHand:  st.BuyerHand,
		Consumed:   st.Consumed,
	}
	if f, ok := s.Facilities[model.UnclaimedFacility]; ok {
		stock.Unclaimed = f.Inventory.Count(w.cfg.Item)
	}
	if sup, ok := s.Supply[w.cfg.Item]; ok {
		stock.Blocked = sup.Blocked
	}

	bids, asks := 0, 0
	for _, b := range s.Books {
		bids += len(b.Bids)
		asks += len(b.Asks)
	}

	residuals, violations := w.auditor.Counts()
	w.metrics.Store(WorldMetrics{
		Tick:       w.tick.Load(),
		TickRateHz: w.cfg.TickRateHz,
		StepMS:     stepMS,
		Digest:     w.lastDigest,
		Money: MoneyMetrics{
			Wallets:    pools.Wallets,
			Escrow:     pools.Escrow,
			Budget:     l.Balance(ledger.BudgetAccount),
			Total:      pools.Total,
			Inflow:     pools.Inflow,
			Outflow:    pools.Outflow,
			Overdrafts: l.Overdrafts(),
		},
		Stock:             stock,
		Prices:            copyPrices(s.Prices),
		Pricing:           w.pricing.State(),
		Demand:            s.Demand,
		Audit:             s.Audit,
		OpenBids:          bids,
		OpenAsks:          asks,
		PendingDeliveries: len(w.restock.Pending()),
		StatsWindowTicks:  s.Stats.WindowTicks(),
		StatsWindow:       s.Stats.Summarize(nowTick),
		StatsLifetime:     s.Stats.Total(),
		Repairs:           w.guardrail.Total(),
		AuditResiduals:    residuals,
		AuditViolations:   violations,
		DiagnosticsTotal:  s.DiagnosticsTotal(),
		LogErrors:         w.logErrors,
	})
}

// Package telemetry turns per-tick world metrics into fixed-schema samples
// and judges a finished run against configured thresholds.
package telemetry

import (
	"github.com/joonk7809/port-town-01/internal/sim/world"
)

// Sample is one row of run telemetry. Field order is the CSV column order.
type Sample struct {
	RunID      string  `json:"run_id"`
	Tick       uint64  `json:"tick"`
	SimSeconds float64 `json:"sim_seconds"`

	Price    int64   `json:"price"`
	Cover    float64 `json:"cover"`
	RateEMA  float64 `json:"rate_ema"`
	Integral float64 `json:"integral"`

	Wallets  int64 `json:"wallets"`
	Escrow   int64 `json:"escrow"`
	Budget   int64 `json:"budget"`
	Total    int64 `json:"total"`
	Inflow   int64 `json:"inflow"`
	Outflow  int64 `json:"outflow"`
	Residual int64 `json:"residual"`

	OnOrder    int `json:"on_order"`
	VendorHand int `json:"vendor_hand"`
	AskEscrow  int `json:"ask_escrow"`
	BuyerHand  int `json:"buyer_hand"`
	Consumed   int `json:"consumed"`

	Shock       float64 `json:"shock"`
	DesiredRate float64 `json:"desired_rate"`
	Allocation  int64   `json:"allocation"`

	WindowTrades      int     `json:"window_trades"`
	StarvationRate    float64 `json:"starvation_rate"`
	QueueDelaySeconds float64 `json:"queue_delay_seconds"`
	Diagnostics       uint64  `json:"diagnostics"`
}

// FromMetrics flattens one metrics snapshot.
func FromMetrics(runID string, m world.WorldMetrics) Sample {
	hz := m.TickRateHz
	if hz <= 0 {
		hz = 1
	}
	return Sample{
		RunID:      runID,
		Tick:       m.Tick,
		SimSeconds: float64(m.Tick) / float64(hz),

		Price:    m.Pricing.Price,
		Cover:    m.Pricing.Cover,
		RateEMA:  m.Pricing.RateEMA,
		Integral: m.Pricing.Integral,

		Wallets:  m.Money.Wallets,
		Escrow:   m.Money.Escrow,
		Budget:   m.Money.Budget,
		Total:    m.Money.Total,
		Inflow:   m.Money.Inflow,
		Outflow:  m.Money.Outflow,
		Residual: m.Audit.Residual,

		OnOrder:    m.Stock.OnOrder,
		VendorHand: m.Stock.VendorHand,
		AskEscrow:  m.Stock.AskEscrow,
		BuyerHand:  m.Stock.BuyerHand,
		Consumed:   m.Stock.Consumed,

		Shock:       m.Demand.Shock,
		DesiredRate: m.Demand.DesiredRate,
		Allocation:  m.Demand.Allocation,

		WindowTrades:      m.StatsWindow.Trades,
		StarvationRate:    m.StatsWindow.StarvationRate(),
		QueueDelaySeconds: m.StatsWindow.MeanFillTicks() / float64(hz),
		Diagnostics:       m.DiagnosticsTotal,
	}
}

package world

import (
	"github.com/joonk7809/port-town-01/internal/persistence/snapshot"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/market"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

// ExportSnapshot captures the economy after the last completed tick.
func (w *World) ExportSnapshot(runID string) snapshot.SnapshotV1 {
	s := w.state
	snap := snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: 1, RunID: runID, Tick: w.tick.Load()},
		Seed:       w.cfg.Seed,
		TickRate:   w.cfg.TickRateHz,
		Scenario:   string(w.scenario.Kind()),
		Digest:     w.lastDigest,
		Inflow:     s.Ledger.Inflow(),
		Outflow:    s.Ledger.Outflow(),
		Overdrafts: s.Ledger.Overdrafts(),
		Prices:     copyPrices(s.Prices),
		Consumed:   copyCounts(s.Consumed),
		Traded:     copyCounts(s.Traded),
	}

	for _, a := range s.Ledger.Accounts("") {
		snap.Accounts = append(snap.Accounts, snapshot.AccountV1{ID: string(a.ID), Kind: string(a.Kind), Balance: a.Balance})
	}
	for _, id := range s.SortedParticipantIDs() {
		p := s.Participants[id]
		snap.Participants = append(snap.Participants, snapshot.ParticipantV1{
			ID:       p.ID,
			Role:     string(p.Role),
			InRange:  p.InRange,
			Capacity: p.Inventory.Capacity,
			Weight:   p.Inventory.Weight,
			Items:    p.Inventory.Clone(),
		})
	}
	for _, id := range s.SortedFacilityIDs() {
		snap.Facilities = append(snap.Facilities, snapshot.FacilityV1{ID: id, Items: s.Facilities[id].Inventory.Clone()})
	}
	for _, item := range s.SortedBookItems() {
		b := s.Books[item]
		for _, o := range append(append([]*model.Order(nil), b.Bids...), b.Asks...) {
			snap.Orders = append(snap.Orders, snapshot.OrderV1{
				ID:          o.ID,
				Side:        o.Side.String(),
				Item:        o.Item,
				Owner:       o.Owner,
				Qty:         o.Qty,
				Price:       o.Price,
				EscrowCoins: market.EscrowOf(s, o),
				EscrowItems: o.EscrowItems,
				PostTick:    o.PostTick,
				ExpireTick:  o.ExpireTick,
			})
		}
	}

	ps := w.pricing.State()
	snap.Pricing = snapshot.PricingV1{Price: ps.Price, Integral: ps.Integral, RateEMA: ps.RateEMA, Cover: ps.Cover}

	snap.Restock.LeadTicks = w.restock.LeadTime()
	if sup, ok := s.Supply[w.cfg.Item]; ok {
		snap.Restock.Blocked = sup.Blocked
	}
	for _, d := range w.restock.Pending() {
		snap.Restock.Pending = append(snap.Restock.Pending, snapshot.DeliveryV1{DueTick: d.DueTick, Qty: d.Qty, CostPaid: d.CostPaid})
	}

	snap.Demand = snapshot.DemandV1{
		Shock:       s.Demand.Shock,
		DesiredRate: s.Demand.DesiredRate,
		Allocation:  s.Demand.Allocation,
		Residue:     w.budget.Residue().String(),
	}
	snap.Audit = snapshot.AuditV1{
		Tick:       s.Audit.Tick,
		Total:      s.Audit.Total,
		Expected:   s.Audit.Expected,
		Residual:   s.Audit.Residual,
		Violations: s.Audit.Violations,
	}

	lt := s.Stats.Total()
	snap.Stats = snapshot.StatsBucketV1{
		Trades:           lt.Trades,
		UnitsSold:        lt.UnitsSold,
		Coins:            lt.Coins,
		Fills:            lt.Fills,
		FillTicks:        lt.FillTicks,
		Cancelled:        lt.Cancelled,
		Expired:          lt.Expired,
		DemandIntervals:  lt.DemandIntervals,
		StarvedIntervals: lt.StarvedIntervals,
	}
	return snap
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

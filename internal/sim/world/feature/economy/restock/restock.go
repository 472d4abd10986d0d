// Package restock runs the vendor's continuous-review (s, S, Q) policy.
// Wholesale cost leaves the economy when the order is placed; the delivery
// later moves items only.
package restock

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/market"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

type Params struct {
	Vendor string
	Item   string

	EveryTicks   uint64
	ReorderPoint int // s
	OrderUpTo    int // S
	BatchSize    int // Q
	UnitCost     decimal.Decimal
	LeadTicks    uint64

	// CountOnOrder adds pending deliveries to available stock when deciding.
	CountOnOrder bool
}

type Delivery struct {
	DueTick  uint64 `json:"due_tick"`
	Qty      int    `json:"qty"`
	CostPaid int64  `json:"cost_paid"`
}

// Decision is the outcome of one review.
type Decision struct {
	Available int
	Wanted    int // quantity before shrinking
	Qty       int
	Cost      int64
	Shrunk    bool
	Skipped   bool
}

type Policy struct {
	p       Params
	pending []Delivery

	ordered   int
	delivered int
}

func New(p Params) *Policy {
	if p.BatchSize <= 0 {
		p.BatchSize = 1
	}
	return &Policy{p: p}
}

func (p *Policy) Name() string { return "restock" }

func (p *Policy) Params() Params { return p.p }

func (p *Policy) LeadTime() uint64 { return p.p.LeadTicks }

// SetLeadTime changes the lead for orders placed from now on.
func (p *Policy) SetLeadTime(ticks uint64) { p.p.LeadTicks = ticks }

func (p *Policy) Pending() []Delivery { return append([]Delivery(nil), p.pending...) }

func (p *Policy) OnOrder() int {
	n := 0
	for _, d := range p.pending {
		n += d.Qty
	}
	return n
}

// Totals are lifetime ordered and delivered quantities.
func (p *Policy) Totals() (ordered, delivered int) { return p.ordered, p.delivered }

// Tick releases due deliveries every tick so items land exactly at their due
// tick, and reviews stock on the policy cadence.
func (p *Policy) Tick(s *model.State, now uint64) {
	p.release(s, now)
	if p.p.EveryTicks != 0 && now%p.p.EveryTicks == 0 {
		p.Review(s, now)
	}
	p.publish(s)
}

// Review makes at most one replenishment decision.
func (p *Policy) Review(s *model.State, now uint64) Decision {
	avail := market.AvailableForSale(s, p.p.Vendor, p.p.Item)
	if p.p.CountOnOrder {
		avail += p.OnOrder()
	}
	d := Decision{Available: avail}
	qty, _ := PlanOrder(avail, p.p.ReorderPoint, p.p.OrderUpTo, p.p.BatchSize)
	if qty == 0 {
		p.setBlocked(s, false)
		return d
	}
	d.Wanted = qty

	vendor := s.Participant(p.p.Vendor)
	if vendor == nil {
		d.Skipped = true
		s.Warn("RESTOCK_NO_VENDOR", p.p.Vendor, "vendor does not exist", map[string]any{"item": p.p.Item})
		return d
	}
	wallet := s.Ledger.Balance(vendor.Wallet())
	batches := Affordable(qty/p.p.BatchSize, p.p.BatchSize, p.p.UnitCost, wallet)
	if batches == 0 {
		d.Skipped = true
		p.setBlocked(s, true)
		s.Report(model.SeverityInfo, "RESTOCK_UNAFFORDABLE", p.p.Vendor, "cannot afford one batch", map[string]any{
			"item":   p.p.Item,
			"wallet": wallet,
			"wanted": qty,
		})
		return d
	}
	d.Qty = batches * p.p.BatchSize
	d.Shrunk = d.Qty < qty
	d.Cost = Cost(d.Qty, p.p.UnitCost)

	if err := s.Ledger.BurnFrom(vendor.Wallet(), d.Cost); err != nil {
		s.Report(model.SeverityError, "RESTOCK_PAYMENT_FAILED", p.p.Vendor, err.Error(), map[string]any{"cost": d.Cost})
		d.Skipped = true
		p.setBlocked(s, true)
		return d
	}
	p.pending = append(p.pending, Delivery{DueTick: now + p.p.LeadTicks, Qty: d.Qty, CostPaid: d.Cost})
	p.ordered += d.Qty
	p.setBlocked(s, false)
	s.Report(model.SeverityInfo, "RESTOCK_ORDERED", p.p.Vendor, fmt.Sprintf("ordered %d %s", d.Qty, p.p.Item), map[string]any{
		"available": avail,
		"wanted":    qty,
		"qty":       d.Qty,
		"cost":      d.Cost,
		"due_tick":  now + p.p.LeadTicks,
		"shrunk":    d.Shrunk,
	})
	return d
}

func (p *Policy) release(s *model.State, now uint64) {
	if len(p.pending) == 0 {
		return
	}
	keep := p.pending[:0]
	for _, d := range p.pending {
		if d.DueTick > now {
			keep = append(keep, d)
			continue
		}
		inv := s.AddFacility(model.UnclaimedFacility, 0).Inventory
		if v := s.Participant(p.p.Vendor); v != nil {
			inv = v.Inventory
		} else {
			s.Warn("RESTOCK_NO_VENDOR", p.p.Vendor, "delivery went to unclaimed storage", map[string]any{"qty": d.Qty})
		}
		inv.Add(p.p.Item, d.Qty, s.UnitWeight(p.p.Item))
		p.delivered += d.Qty
		s.Report(model.SeverityInfo, "RESTOCK_DELIVERED", p.p.Vendor, fmt.Sprintf("delivered %d %s", d.Qty, p.p.Item), map[string]any{
			"qty":       d.Qty,
			"cost_paid": d.CostPaid,
			"due_tick":  d.DueTick,
		})
	}
	p.pending = keep
}

func (p *Policy) setBlocked(s *model.State, blocked bool) {
	p.supply(s).Blocked = blocked
}

func (p *Policy) supply(s *model.State) *model.Supply {
	sup, ok := s.Supply[p.p.Item]
	if !ok {
		sup = &model.Supply{Vendor: p.p.Vendor}
		s.Supply[p.p.Item] = sup
	}
	return sup
}

func (p *Policy) publish(s *model.State) {
	p.supply(s).OnOrder = p.OnOrder()
}

// PlanOrder returns the order quantity for the given available stock: zero at
// or above the reorder point, otherwise the raise to S rounded up to whole
// batches (at least one).
func PlanOrder(available, reorderPoint, orderUpTo, batch int) (qty, batches int) {
	if available >= reorderPoint {
		return 0, 0
	}
	if batch <= 0 {
		batch = 1
	}
	raise := orderUpTo - available
	batches = (raise + batch - 1) / batch
	if batches < 1 {
		batches = 1
	}
	return batches * batch, batches
}

// Cost is ceil(qty × unitCost) in whole coins.
func Cost(qty int, unitCost decimal.Decimal) int64 {
	return decimal.NewFromInt(int64(qty)).Mul(unitCost).Ceil().IntPart()
}

// Affordable is the largest number of whole batches, up to want, whose cost
// fits in wallet.
func Affordable(want, batch int, unitCost decimal.Decimal, wallet int64) int {
	if want <= 0 || wallet < 0 {
		return 0
	}
	if unitCost.Sign() <= 0 {
		return want
	}
	n := want
	maxQty := decimal.NewFromInt(wallet).Div(unitCost).Floor().IntPart()
	if fit := maxQty / int64(batch); fit < int64(n) {
		n = int(fit)
	}
	for n > 0 && Cost(n*batch, unitCost) > wallet {
		n--
	}
	return n
}

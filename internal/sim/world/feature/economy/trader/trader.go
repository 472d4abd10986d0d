// Package trader is participant behaviour: the vendor keeps an ask at the
// controller's price, the buyer spends its allocation and eats what it buys.
package trader

import (
	"errors"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/market"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

type Params struct {
	Vendor string
	Buyer  string
	Item   string

	QuoteEveryTicks uint64
	QuoteLot        int
	AskTTLTicks     uint64

	BidEveryTicks      uint64
	BidTTLTicks        uint64
	ConsumePerInterval int
}

type Trader struct {
	p Params
}

func New(p Params) *Trader { return &Trader{p: p} }

func (t *Trader) Name() string { return "trader" }

func (t *Trader) Tick(s *model.State, now uint64) {
	price := s.Prices[t.p.Item]
	if t.p.QuoteEveryTicks != 0 && now%t.p.QuoteEveryTicks == 0 {
		t.quote(s, price)
	}
	if t.p.BidEveryTicks != 0 && now%t.p.BidEveryTicks == 0 {
		t.consume(s)
		t.bid(s, price)
	}
}

// quote withdraws asks at a stale price and tops the vendor's escrowed
// quantity back up to the lot size.
func (t *Trader) quote(s *model.State, price int64) {
	v := s.Participant(t.p.Vendor)
	if v == nil || !v.InRange || price <= 0 {
		return
	}
	b := s.Book(t.p.Item)
	for _, o := range append([]*model.Order(nil), b.Asks...) {
		if o.Owner == t.p.Vendor && o.Price != price {
			if err := market.Cancel(s, o.ID); err != nil {
				s.Warn("TRADER_CANCEL_FAILED", o.ID, err.Error(), nil)
			}
		}
	}
	lot := t.p.QuoteLot - b.AskEscrowOf(t.p.Vendor)
	if onHand := v.Inventory.Count(t.p.Item); onHand < lot {
		lot = onHand
	}
	if lot <= 0 {
		return
	}
	if _, err := market.PostAsk(s, t.p.Vendor, t.p.Item, lot, price, t.p.AskTTLTicks); err != nil {
		s.Warn("TRADER_ASK_REJECTED", t.p.Vendor, err.Error(), map[string]any{"qty": lot, "price": price})
	}
}

func (t *Trader) consume(s *model.State) {
	b := s.Participant(t.p.Buyer)
	if b == nil || t.p.ConsumePerInterval <= 0 {
		return
	}
	n := b.Inventory.Count(t.p.Item)
	if n > t.p.ConsumePerInterval {
		n = t.p.ConsumePerInterval
	}
	if n <= 0 {
		return
	}
	if err := b.Inventory.Take(t.p.Item, n, s.UnitWeight(t.p.Item)); err != nil {
		s.Warn("TRADER_CONSUME_FAILED", t.p.Buyer, err.Error(), nil)
		return
	}
	s.Consumed[t.p.Item] += n
}

// bid posts one bid sized by what the buyer can pay for and carry, unless
// it already has one resting.
func (t *Trader) bid(s *model.State, price int64) {
	b := s.Participant(t.p.Buyer)
	if b == nil || !b.InRange || price <= 0 {
		return
	}
	if s.Book(t.p.Item).OpenBidsOf(t.p.Buyer) > 0 {
		return
	}
	qty := BidQty(s.Ledger.Balance(b.Wallet()), price, b.Inventory.FreeWeight(), s.UnitWeight(t.p.Item))
	if qty <= 0 {
		return
	}
	if _, err := market.PostBid(s, t.p.Buyer, t.p.Item, qty, price, t.p.BidTTLTicks); err != nil {
		sev := model.SeverityWarn
		if errors.Is(err, market.ErrInsufficientFunds) {
			sev = model.SeverityInfo
		}
		s.Report(sev, "TRADER_BID_REJECTED", t.p.Buyer, err.Error(), map[string]any{"qty": qty, "price": price})
	}
}

// BidQty is min(wallet/price, freeWeight/unitWeight).
func BidQty(wallet, price int64, freeWeight, unitWeight int) int {
	if wallet <= 0 || price <= 0 {
		return 0
	}
	if unitWeight <= 0 {
		unitWeight = 1
	}
	afford := wallet / price
	carry := int64(freeWeight / unitWeight)
	if carry < afford {
		afford = carry
	}
	return int(afford)
}

package market

import (
	"sort"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

// MatchResult summarizes one matching pass over a book.
type MatchResult struct {
	Trades    int
	Units     int
	Coins     int64
	Cancelled int
}

// Matcher crosses every book once per tick.
type Matcher struct{}

func (Matcher) Name() string { return "market.match" }

func (Matcher) Tick(s *model.State, now uint64) {
	for _, item := range s.SortedBookItems() {
		Match(s, s.Books[item], now)
	}
}

// SortBids orders bids by price descending, then post tick, then id.
func SortBids(orders []*model.Order) []*model.Order {
	out := append([]*model.Order(nil), orders...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Price != b.Price {
			return a.Price > b.Price
		}
		if a.PostTick != b.PostTick {
			return a.PostTick < b.PostTick
		}
		return a.ID < b.ID
	})
	return out
}

// SortAsks orders asks by price ascending, then post tick, then id.
func SortAsks(orders []*model.Order) []*model.Order {
	out := append([]*model.Order(nil), orders...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if a.PostTick != b.PostTick {
			return a.PostTick < b.PostTick
		}
		return a.ID < b.ID
	})
	return out
}

// Match walks the best bid and best ask while they cross. Settlement is at
// the resting ask's price. Orders that cannot trade even one unit are
// cancelled with full restitution so they never block the book.
func Match(s *model.State, b *model.Book, now uint64) MatchResult {
	var res MatchResult
	if b == nil {
		return res
	}
	bids := SortBids(b.Bids)
	asks := SortAsks(b.Asks)
	unitW := s.UnitWeight(b.Item)
	if unitW <= 0 {
		unitW = 1
	}

	cancel := func(o *model.Order, code string) {
		coins, items := release(s, b, o)
		res.Cancelled++
		s.Stats.RecordCancel(now)
		s.Report(model.SeverityInfo, code, o.ID, "order cancelled", map[string]any{
			"side":     o.Side.String(),
			"owner":    o.Owner,
			"refund":   coins,
			"returned": items,
		})
	}

	i, j := 0, 0
	for i < len(bids) && j < len(asks) {
		bid, ask := bids[i], asks[j]
		if bid.Price < ask.Price {
			break
		}

		buyer := s.Participant(bid.Owner)
		seller := s.Participant(ask.Owner)
		if buyer == nil || seller == nil {
			if buyer == nil {
				s.Warn("ORDER_DANGLING", bid.ID, "bid owner does not exist", map[string]any{"owner": bid.Owner})
				cancel(bid, "ORDER_DANGLING_REFUND")
				i++
			}
			if seller == nil {
				s.Warn("ORDER_DANGLING", ask.ID, "ask owner does not exist", map[string]any{"owner": ask.Owner})
				cancel(ask, "ORDER_DANGLING_REFUND")
				j++
			}
			continue
		}

		escrow := EscrowOf(s, bid)
		affordable := 0
		if escrow > 0 && ask.Price > 0 {
			affordable = clampInt(escrow / ask.Price)
		}
		askEscrow := ask.EscrowItems
		if askEscrow < 0 {
			askEscrow = 0
		}
		tradeCap := minInt(minInt(bid.Qty, ask.Qty), minInt(affordable, askEscrow))

		if tradeCap <= 0 {
			bidBlocked := affordable == 0 || bid.Qty <= 0
			askBlocked := askEscrow == 0 || ask.Qty <= 0
			if bidBlocked {
				cancel(bid, "ORDER_UNDERFUNDED")
				i++
			}
			if askBlocked {
				cancel(ask, "ORDER_UNDERSTOCKED")
				j++
			}
			continue
		}

		carryFit := buyer.Inventory.FreeWeight() / unitW
		if carryFit <= 0 {
			cancel(bid, "ORDER_NO_CAPACITY")
			i++
			continue
		}
		qty := minInt(carryFit, tradeCap)
		coins := ledger.MulCoins(ask.Price, qty)

		if err := s.Ledger.Transfer(bid.EscrowAccount(), seller.Wallet(), coins); err != nil {
			s.Report(model.SeverityError, "SETTLEMENT_FAILED", bid.ID, err.Error(), map[string]any{"ask": ask.ID, "coins": coins})
		}
		ask.EscrowItems -= qty
		buyer.Inventory.Add(b.Item, qty, unitW)
		bid.Qty -= qty
		ask.Qty -= qty

		res.Trades++
		res.Units += qty
		res.Coins += coins
		b.SoldUnits += qty
		s.Traded[b.Item] += qty
		s.Stats.RecordTrade(now, qty, coins)
		s.Stats.RecordFill(now, bid.PostTick)

		if bid.Qty == 0 {
			release(s, b, bid)
			i++
		}
		if ask.Qty == 0 {
			release(s, b, ask)
			j++
		}
	}
	return res
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v int64) int {
	const maxInt = int64(^uint(0) >> 1)
	if v > maxInt {
		return int(maxInt)
	}
	return int(v)
}

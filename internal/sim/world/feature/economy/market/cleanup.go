package market

import "github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"

// Cleaner expires stale orders on its own cadence.
type Cleaner struct {
	EveryTicks uint64
}

func (Cleaner) Name() string { return "market.cleanup" }

func (c Cleaner) Tick(s *model.State, now uint64) {
	if c.EveryTicks == 0 || now%c.EveryTicks != 0 {
		return
	}
	Cleanup(s, now)
}

// Cleanup removes every order that is empty or past its expiry, returning all
// remaining escrow first. It returns the number of orders removed.
func Cleanup(s *model.State, now uint64) int {
	removed := 0
	for _, item := range s.SortedBookItems() {
		b := s.Books[item]
		stale := make([]*model.Order, 0)
		for _, o := range b.Bids {
			if o.Qty <= 0 || o.Expired(now) {
				stale = append(stale, o)
			}
		}
		for _, o := range b.Asks {
			if o.Qty <= 0 || o.Expired(now) {
				stale = append(stale, o)
			}
		}
		for _, o := range stale {
			coins, items := release(s, b, o)
			removed++
			code := "ORDER_EMPTY"
			if o.Expired(now) {
				code = "ORDER_EXPIRED"
				s.Stats.RecordExpire(now)
			}
			s.Report(model.SeverityInfo, code, o.ID, "order removed by cleanup", map[string]any{
				"side":     o.Side.String(),
				"owner":    o.Owner,
				"qty":      o.Qty,
				"refund":   coins,
				"returned": items,
			})
		}
	}
	return removed
}

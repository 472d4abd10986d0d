// Package market owns order posting, matching and cleanup for the commodity
// books. All coin escrow moves through the ledger; item escrow is carried on
// the ask itself.
package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

var (
	ErrBadOrder           = errors.New("market: bad order")
	ErrUnknownParticipant = errors.New("market: unknown participant")
	ErrUnknownOrder       = errors.New("market: unknown order")
	ErrInsufficientFunds  = errors.New("market: insufficient funds")
)

// PostBid escrows qty×price coins from the owner's wallet and rests a buy
// order. ttl of zero means the order never expires.
func PostBid(s *model.State, owner, item string, qty int, price int64, ttl uint64) (*model.Order, error) {
	if qty <= 0 || price <= 0 || item == "" {
		return nil, fmt.Errorf("bid %s %dx%s@%d: %w", owner, qty, item, price, ErrBadOrder)
	}
	p := s.Participant(owner)
	if p == nil {
		return nil, fmt.Errorf("bid %s: %w", owner, ErrUnknownParticipant)
	}
	cost := ledger.MulCoins(price, qty)
	if s.Ledger.Balance(p.Wallet()) < cost {
		return nil, fmt.Errorf("bid %s needs %d: %w", owner, cost, ErrInsufficientFunds)
	}

	o := newOrder(s, model.Buy, owner, item, qty, price, ttl)
	if err := s.Ledger.Open(o.EscrowAccount(), ledger.KindEscrow, 0); err != nil {
		return nil, fmt.Errorf("bid %s: %w", o.ID, err)
	}
	if err := s.Ledger.Transfer(p.Wallet(), o.EscrowAccount(), cost); err != nil {
		return nil, fmt.Errorf("bid %s escrow: %w", o.ID, err)
	}
	s.Book(item).Add(o)
	return o, nil
}

// PostAsk moves qty items out of the owner's inventory into the order.
func PostAsk(s *model.State, owner, item string, qty int, price int64, ttl uint64) (*model.Order, error) {
	if qty <= 0 || price <= 0 || item == "" {
		return nil, fmt.Errorf("ask %s %dx%s@%d: %w", owner, qty, item, price, ErrBadOrder)
	}
	p := s.Participant(owner)
	if p == nil {
		return nil, fmt.Errorf("ask %s: %w", owner, ErrUnknownParticipant)
	}
	if err := p.Inventory.Take(item, qty, s.UnitWeight(item)); err != nil {
		return nil, fmt.Errorf("ask %s: %w", owner, err)
	}
	o := newOrder(s, model.Sell, owner, item, qty, price, ttl)
	o.EscrowItems = qty
	s.Book(item).Add(o)
	return o, nil
}

// Cancel withdraws an open order and returns all of its escrow.
func Cancel(s *model.State, orderID string) error {
	for _, item := range s.SortedBookItems() {
		b := s.Books[item]
		if o := b.Find(orderID); o != nil {
			release(s, b, o)
			s.Stats.RecordCancel(s.Now())
			return nil
		}
	}
	return fmt.Errorf("cancel %s: %w", orderID, ErrUnknownOrder)
}

// AvailableForSale is the seller's on-hand stock plus what it has escrowed in
// open asks.
func AvailableForSale(s *model.State, seller, item string) int {
	n := 0
	if p := s.Participant(seller); p != nil {
		n = p.Inventory.Count(item)
	}
	if b, ok := s.Books[item]; ok {
		n += b.AskEscrowOf(seller)
	}
	return n
}

// EscrowOf reads a bid's coin escrow.
func EscrowOf(s *model.State, o *model.Order) int64 {
	if o.Side != model.Buy {
		return 0
	}
	return s.Ledger.Balance(o.EscrowAccount())
}

func newOrder(s *model.State, side model.Side, owner, item string, qty int, price int64, ttl uint64) *model.Order {
	now := s.Now()
	expire := uint64(math.MaxUint64)
	if ttl > 0 && now <= math.MaxUint64-ttl {
		expire = now + ttl
	}
	return &model.Order{
		ID:         s.NewOrderID(),
		Side:       side,
		Item:       item,
		Owner:      owner,
		Qty:        qty,
		Price:      price,
		PostTick:   now,
		ExpireTick: expire,
	}
}

// release returns whatever escrow the order still holds and removes it from
// the book. Coins go back to the owner's wallet account, which outlives the
// participant. Items from a seller that no longer exists go to the unclaimed
// facility.
func release(s *model.State, b *model.Book, o *model.Order) (coins int64, items int) {
	switch o.Side {
	case model.Buy:
		acct := o.EscrowAccount()
		if s.Ledger.Has(acct) {
			wallet := ledger.WalletAccount(o.Owner)
			bal := s.Ledger.Balance(acct)
			var err error
			switch {
			case bal > 0:
				err = s.Ledger.Transfer(acct, wallet, bal)
				coins = bal
			case bal < 0:
				err = s.Ledger.Transfer(wallet, acct, -bal)
			}
			if err != nil {
				s.Report(model.SeverityError, "ESCROW_REFUND_FAILED", o.ID, err.Error(), map[string]any{"owner": o.Owner, "escrow": bal})
			}
			if err := s.Ledger.Close(acct); err != nil {
				s.Report(model.SeverityError, "ESCROW_CLOSE_FAILED", o.ID, err.Error(), nil)
			}
		}
	case model.Sell:
		items = o.EscrowItems
		if items > 0 {
			if p := s.Participant(o.Owner); p != nil {
				p.Inventory.Add(o.Item, items, s.UnitWeight(o.Item))
			} else {
				s.AddFacility(model.UnclaimedFacility, 0).Inventory.Add(o.Item, items, s.UnitWeight(o.Item))
			}
		}
		o.EscrowItems = 0
	}
	b.Remove(o)
	return coins, items
}

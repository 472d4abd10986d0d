package model

import (
	"fmt"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
)

type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "UNKNOWN"
}

// Order is a resting limit order. A bid's coin escrow lives in its own
// ledger account; an ask's item escrow is EscrowItems.
type Order struct {
	ID          string
	Side        Side
	Item        string
	Owner       string
	Qty         int
	Price       int64
	EscrowItems int
	PostTick    uint64
	ExpireTick  uint64
}

func (o *Order) EscrowAccount() ledger.AccountID { return ledger.EscrowAccount(o.ID) }

// Expired reports whether the order has outlived its time to live.
func (o *Order) Expired(now uint64) bool { return now > o.ExpireTick }

func OrderID(n uint64) string {
	return fmt.Sprintf("OR%06d", n)
}

// Book is one commodity's open orders, kept in insertion order. Matching
// sorts its own view.
type Book struct {
	Item string
	Bids []*Order
	Asks []*Order

	// SoldUnits accumulates fills until the price controller drains it.
	SoldUnits int
}

func NewBook(item string) *Book { return &Book{Item: item} }

func (b *Book) Add(o *Order) {
	if o.Side == Buy {
		b.Bids = append(b.Bids, o)
	} else {
		b.Asks = append(b.Asks, o)
	}
}

func (b *Book) Remove(o *Order) bool {
	list := &b.Asks
	if o.Side == Buy {
		list = &b.Bids
	}
	for i, x := range *list {
		if x == o {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Book) Find(id string) *Order {
	for _, o := range b.Bids {
		if o.ID == id {
			return o
		}
	}
	for _, o := range b.Asks {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// AskEscrowOf sums items escrowed in owner's open asks.
func (b *Book) AskEscrowOf(owner string) int {
	n := 0
	for _, o := range b.Asks {
		if o.Owner == owner {
			n += o.EscrowItems
		}
	}
	return n
}

func (b *Book) AskEscrow() int {
	n := 0
	for _, o := range b.Asks {
		n += o.EscrowItems
	}
	return n
}

func (b *Book) OpenBidsOf(owner string) int {
	n := 0
	for _, o := range b.Bids {
		if o.Owner == owner {
			n++
		}
	}
	return n
}

package trader

import (
	"testing"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

func newTraderState(t *testing.T) *model.State {
	t.Helper()
	s := model.NewState(nil, 10)
	if _, err := s.AddParticipant("V", model.RoleVendor, 0, 0, map[string]int{"FISH": 30}); err != nil {
		t.Fatalf("add vendor: %v", err)
	}
	if _, err := s.AddParticipant("B", model.RoleBuyer, 100, 12, map[string]int{"FISH": 4}); err != nil {
		t.Fatalf("add buyer: %v", err)
	}
	s.Prices["FISH"] = 5
	return s
}

func testParams() Params {
	return Params{
		Vendor:             "V",
		Buyer:              "B",
		Item:               "FISH",
		QuoteEveryTicks:    10,
		QuoteLot:           20,
		AskTTLTicks:        100,
		BidEveryTicks:      10,
		BidTTLTicks:        50,
		ConsumePerInterval: 3,
	}
}

func TestBidQty(t *testing.T) {
	if got := BidQty(100, 5, 12, 1); got != 12 {
		t.Fatalf("qty=%d want 12 (carry)", got)
	}
	if got := BidQty(23, 5, 100, 1); got != 4 {
		t.Fatalf("qty=%d want 4 (afford)", got)
	}
	if got := BidQty(100, 5, 12, 5); got != 2 {
		t.Fatalf("qty=%d want 2 (heavy item)", got)
	}
	if got := BidQty(0, 5, 12, 1); got != 0 {
		t.Fatalf("qty=%d want 0", got)
	}
}

func TestTick_QuotesConsumesAndBids(t *testing.T) {
	s := newTraderState(t)
	tr := New(testParams())
	tr.Tick(s, 10)

	b := s.Book("FISH")
	if len(b.Asks) != 1 || b.Asks[0].Qty != 20 || b.Asks[0].Price != 5 {
		t.Fatalf("asks=%+v", b.Asks)
	}
	if got := s.Consumed["FISH"]; got != 3 {
		t.Fatalf("consumed=%d want 3", got)
	}
	// 1 fish left weighs 1 of 12; 11 free.
	if len(b.Bids) != 1 || b.Bids[0].Qty != 11 {
		t.Fatalf("bids=%+v", b.Bids)
	}
	if got := s.Ledger.Balance(ledger.WalletAccount("B")); got != 45 {
		t.Fatalf("buyer wallet=%d want 45", got)
	}
}

func TestTick_RequotesOnPriceChange(t *testing.T) {
	s := newTraderState(t)
	tr := New(testParams())
	tr.Tick(s, 10)
	tr.Tick(s, 20)
	if got := len(s.Book("FISH").Asks); got != 1 {
		t.Fatalf("asks=%d want 1 while lot is full", got)
	}

	s.Prices["FISH"] = 6
	tr.Tick(s, 30)
	asks := s.Book("FISH").Asks
	if len(asks) != 1 || asks[0].Price != 6 || asks[0].Qty != 20 {
		t.Fatalf("asks=%+v", asks)
	}
	if got := s.Participant("V").Inventory.Count("FISH"); got != 10 {
		t.Fatalf("vendor fish=%d want 10", got)
	}
}

func TestTick_OutOfRangeDoesNotTrade(t *testing.T) {
	s := newTraderState(t)
	s.Participant("V").InRange = false
	s.Participant("B").InRange = false
	New(testParams()).Tick(s, 10)
	b := s.Book("FISH")
	if len(b.Asks) != 0 || len(b.Bids) != 0 {
		t.Fatalf("out-of-range participants posted orders")
	}
	if s.Consumed["FISH"] != 3 {
		t.Fatalf("consumption does not depend on range")
	}
}

func TestTick_OneRestingBidAtATime(t *testing.T) {
	s := newTraderState(t)
	tr := New(testParams())
	tr.Tick(s, 10)
	tr.Tick(s, 20)
	if got := s.Book("FISH").OpenBidsOf("B"); got != 1 {
		t.Fatalf("open bids=%d want 1", got)
	}
}

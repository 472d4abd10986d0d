package model

import (
	"errors"
	"testing"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
)

func TestInventory_AddTakeKeepsWeight(t *testing.T) {
	inv := NewInventory(20)
	inv.Add("GRAIN", 4, 2)
	inv.Add("FISH", 3, 1)
	if inv.Weight != 11 || inv.FreeWeight() != 9 {
		t.Fatalf("weight=%d free=%d", inv.Weight, inv.FreeWeight())
	}
	if err := inv.Take("GRAIN", 4, 2); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, ok := inv.Items["GRAIN"]; ok {
		t.Fatalf("empty stack not removed")
	}
	if err := inv.Take("FISH", 5, 1); !errors.Is(err, ErrInsufficientItems) {
		t.Fatalf("err=%v want ErrInsufficientItems", err)
	}
	if err := inv.Take("FISH", -1, 1); err == nil {
		t.Fatalf("negative take accepted")
	}
	if inv.Count("FISH") != 3 || inv.Weight != 3 {
		t.Fatalf("failed take changed inventory: %+v", inv)
	}
}

func TestInventory_FreeWeightBounds(t *testing.T) {
	if NewInventory(0).FreeWeight() <= 0 {
		t.Fatalf("unlimited inventory must report free weight")
	}
	inv := NewInventory(5)
	inv.Add("TIMBER", 2, 5)
	if inv.FreeWeight() != 0 {
		t.Fatalf("over capacity free=%d want 0", inv.FreeWeight())
	}
	inv.Weight = 99
	if got := inv.ComputeWeight(func(string) int { return 5 }); got != 10 {
		t.Fatalf("computed=%d want 10", got)
	}
}

func TestBook_AddFindRemove(t *testing.T) {
	b := NewBook("FISH")
	bid := &Order{ID: OrderID(1), Side: Buy, Owner: "B", Qty: 2}
	ask1 := &Order{ID: OrderID(2), Side: Sell, Owner: "V", EscrowItems: 5}
	ask2 := &Order{ID: OrderID(3), Side: Sell, Owner: "W", EscrowItems: 2}
	b.Add(bid)
	b.Add(ask1)
	b.Add(ask2)

	if b.Find("OR000002") != ask1 || b.Find("nope") != nil {
		t.Fatalf("find mismatch")
	}
	if b.AskEscrow() != 7 || b.AskEscrowOf("V") != 5 || b.OpenBidsOf("B") != 1 {
		t.Fatalf("aggregates wrong")
	}
	if !b.Remove(ask1) || b.Remove(ask1) {
		t.Fatalf("remove should succeed once")
	}
	if len(b.Asks) != 1 || b.Asks[0] != ask2 {
		t.Fatalf("asks=%+v", b.Asks)
	}
}

func TestOrder_Expired(t *testing.T) {
	o := &Order{ExpireTick: 10}
	if o.Expired(10) || !o.Expired(11) {
		t.Fatalf("expiry is strictly after ExpireTick")
	}
	if Buy.String() != "BUY" || Sell.String() != "SELL" || Side(9).String() != "UNKNOWN" {
		t.Fatalf("side names")
	}
}

func TestState_SeedBudgetIsNotAnInflow(t *testing.T) {
	s := NewState(nil, 10)
	if err := s.SeedBudget(500); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if s.Ledger.Balance(ledger.BudgetAccount) != 500 || s.Ledger.Inflow() != 0 {
		t.Fatalf("budget=%d inflow=%d", s.Ledger.Balance(ledger.BudgetAccount), s.Ledger.Inflow())
	}
	if err := s.SeedBudget(1); err == nil {
		t.Fatalf("reseeding a funded budget must fail")
	}
}

func TestState_Participants(t *testing.T) {
	s := NewState(nil, 10)
	p, err := s.AddParticipant("B", RoleBuyer, 40, 10, map[string]int{"GRAIN": 2, "FISH": 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !p.InRange || p.Inventory.Weight != 5 {
		t.Fatalf("participant=%+v weight=%d", p, p.Inventory.Weight)
	}
	if s.Ledger.Balance(p.Wallet()) != 40 {
		t.Fatalf("wallet=%d", s.Ledger.Balance(p.Wallet()))
	}
	if _, err := s.AddParticipant("B", RoleBuyer, 0, 0, nil); err == nil {
		t.Fatalf("duplicate accepted")
	}
	if _, err := s.AddParticipant("", RoleBuyer, 0, 0, nil); err == nil {
		t.Fatalf("empty id accepted")
	}

	s.RemoveParticipant("B")
	if s.Participant("B") != nil || !s.Ledger.Has(ledger.WalletAccount("B")) {
		t.Fatalf("removal must keep the wallet account")
	}
}

func TestState_OrderIDsAndDiagnostics(t *testing.T) {
	s := NewState(nil, 20)
	if a, b := s.NewOrderID(), s.NewOrderID(); a != "OR000001" || b != "OR000002" {
		t.Fatalf("ids=%s,%s", a, b)
	}
	if got := s.IntervalSeconds(50); got != 2.5 {
		t.Fatalf("interval=%v", got)
	}
	s.BeginTick(7)
	s.Warn("X", "s", "m", nil)
	s.Report(SeverityInfo, "Y", "s", "m", nil)
	if len(s.PendingDiagnostics()) != 2 {
		t.Fatalf("pending=%d", len(s.PendingDiagnostics()))
	}
	d := s.DrainDiagnostics()
	if len(d) != 2 || d[0].Tick != 7 || d[0].Severity != SeverityWarn {
		t.Fatalf("diags=%+v", d)
	}
	if len(s.DrainDiagnostics()) != 0 || s.DiagnosticsTotal() != 2 {
		t.Fatalf("drain must clear but keep the total")
	}
	if s.Facilities[UnclaimedFacility] == nil {
		t.Fatalf("unclaimed facility missing")
	}
}

package ledger

import (
	"errors"
	"testing"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	if err := l.Open(WalletAccount("A"), KindWallet, 100); err != nil {
		t.Fatalf("open A: %v", err)
	}
	if err := l.Open(WalletAccount("B"), KindWallet, 0); err != nil {
		t.Fatalf("open B: %v", err)
	}
	if err := l.Open(BudgetAccount, KindBudget, 50); err != nil {
		t.Fatalf("open budget: %v", err)
	}
	return l
}

func TestTransfer_ZeroSum(t *testing.T) {
	l := newTestLedger(t)
	before := l.Total()
	if err := l.Transfer(WalletAccount("A"), WalletAccount("B"), 30); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.Balance(WalletAccount("A")); got != 70 {
		t.Fatalf("A=%d want 70", got)
	}
	if got := l.Balance(WalletAccount("B")); got != 30 {
		t.Fatalf("B=%d want 30", got)
	}
	if l.Total() != before {
		t.Fatalf("total changed: %d -> %d", before, l.Total())
	}
	if l.Inflow() != 0 || l.Outflow() != 0 {
		t.Fatalf("transfer touched flow counters: in=%d out=%d", l.Inflow(), l.Outflow())
	}
}

func TestTransfer_NegativeAmountRejected(t *testing.T) {
	l := newTestLedger(t)
	err := l.Transfer(WalletAccount("A"), WalletAccount("B"), -1)
	if !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	if l.Balance(WalletAccount("A")) != 100 {
		t.Fatalf("rejected transfer mutated source")
	}
}

func TestTransfer_OverdraftIsAppliedAndReported(t *testing.T) {
	l := newTestLedger(t)
	before := l.Total()
	err := l.Transfer(WalletAccount("B"), WalletAccount("A"), 5)
	if !errors.Is(err, ErrOverdraft) {
		t.Fatalf("expected ErrOverdraft, got %v", err)
	}
	if got := l.Balance(WalletAccount("B")); got != -5 {
		t.Fatalf("B=%d want -5", got)
	}
	if l.Total() != before {
		t.Fatalf("overdraft broke conservation")
	}
	vs := l.DrainViolations()
	if len(vs) != 1 || vs[0].Account != WalletAccount("B") || vs[0].BalanceAfter != -5 {
		t.Fatalf("violations=%+v", vs)
	}
	if len(l.DrainViolations()) != 0 {
		t.Fatalf("drain did not reset")
	}
	if l.Overdrafts() != 1 {
		t.Fatalf("overdrafts=%d want 1", l.Overdrafts())
	}
}

func TestTransfer_UnknownAccount(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Transfer(WalletAccount("A"), WalletAccount("nobody"), 1); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
	if l.Balance(WalletAccount("A")) != 100 {
		t.Fatalf("failed transfer mutated source")
	}
}

func TestMintBurn_TrackFlows(t *testing.T) {
	l := newTestLedger(t)
	initial := l.Total()
	if err := l.MintTo(BudgetAccount, 25); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.BurnFrom(WalletAccount("A"), 40); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if l.Inflow() != 25 || l.Outflow() != 40 {
		t.Fatalf("flows in=%d out=%d", l.Inflow(), l.Outflow())
	}
	if got, want := l.Total(), initial+l.Inflow()-l.Outflow(); got != want {
		t.Fatalf("total=%d want %d", got, want)
	}
}

func TestSumByKind(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Open(EscrowAccount("O1"), KindEscrow, 0); err != nil {
		t.Fatalf("open escrow: %v", err)
	}
	if err := l.Transfer(WalletAccount("A"), EscrowAccount("O1"), 15); err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if got := l.Sum(KindWallet); got != 85 {
		t.Fatalf("wallets=%d want 85", got)
	}
	if got := l.Sum(KindEscrow); got != 15 {
		t.Fatalf("escrow=%d want 15", got)
	}
	if got := l.Sum(KindBudget); got != 50 {
		t.Fatalf("budget=%d want 50", got)
	}
	accs := l.Accounts(KindWallet)
	if len(accs) != 2 || accs[0].ID != WalletAccount("A") {
		t.Fatalf("accounts not sorted: %+v", accs)
	}
}

func TestClose_RequiresEmpty(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Open(EscrowAccount("O1"), KindEscrow, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = l.Transfer(WalletAccount("A"), EscrowAccount("O1"), 3)
	if err := l.Close(EscrowAccount("O1")); !errors.Is(err, ErrNonZeroClose) {
		t.Fatalf("expected ErrNonZeroClose, got %v", err)
	}
	_ = l.Transfer(EscrowAccount("O1"), WalletAccount("A"), 3)
	if err := l.Close(EscrowAccount("O1")); err != nil {
		t.Fatalf("close: %v", err)
	}
	if l.Has(EscrowAccount("O1")) {
		t.Fatalf("account still present")
	}
}

func TestAccountOwner(t *testing.T) {
	if got := WalletAccount("VENDOR").Owner(); got != "VENDOR" {
		t.Fatalf("owner=%q", got)
	}
	if got := BudgetAccount.Owner(); got != "CITY_BUDGET" {
		t.Fatalf("owner=%q", got)
	}
}

func TestMulCoinsOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = MulCoins(1<<62, 4)
}

// Package ledger is the only place coins move. Every wallet, every bid
// escrow and the city budget are accounts here, so the sum of all accounts
// changes only through MintTo and BurnFrom, which are counted.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindWallet Kind = "wallet"
	KindEscrow Kind = "escrow"
	KindBudget Kind = "budget"
)

type AccountID string

const BudgetAccount AccountID = "CITY_BUDGET"

func WalletAccount(participantID string) AccountID { return AccountID("wallet:" + participantID) }
func EscrowAccount(orderID string) AccountID       { return AccountID("escrow:" + orderID) }

// Owner strips the kind prefix from wallet and escrow account ids.
func (id AccountID) Owner() string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var (
	ErrNegativeAmount = errors.New("ledger: negative amount")
	ErrOverdraft      = errors.New("ledger: overdraft")
	ErrUnknownAccount = errors.New("ledger: unknown account")
	ErrAccountExists  = errors.New("ledger: account exists")
	ErrNonZeroClose   = errors.New("ledger: closing account with nonzero balance")
)

// Violation is an overdraft that was applied anyway. The caller's escrow
// accounting is wrong; the audit sees the negative balance.
type Violation struct {
	Op           string    `json:"op"`
	Account      AccountID `json:"account"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
}

type Balance struct {
	ID      AccountID `json:"id"`
	Kind    Kind      `json:"kind"`
	Balance int64     `json:"balance"`
}

type account struct {
	kind    Kind
	balance int64
}

type Ledger struct {
	accounts map[AccountID]*account

	inflow  int64
	outflow int64

	overdrafts uint64
	pending    []Violation
}

func New() *Ledger {
	return &Ledger{accounts: map[AccountID]*account{}}
}

// Open creates an account with a genesis balance. Genesis money is part of
// the audit baseline, not an inflow.
func (l *Ledger) Open(id AccountID, kind Kind, opening int64) error {
	if opening < 0 {
		return fmt.Errorf("open %s: %w", id, ErrNegativeAmount)
	}
	if _, ok := l.accounts[id]; ok {
		return fmt.Errorf("open %s: %w", id, ErrAccountExists)
	}
	l.accounts[id] = &account{kind: kind, balance: opening}
	return nil
}

// Close removes an account. Only empty accounts can be closed so escrow can
// never disappear with coins still in it.
func (l *Ledger) Close(id AccountID) error {
	a, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("close %s: %w", id, ErrUnknownAccount)
	}
	if a.balance != 0 {
		return fmt.Errorf("close %s (balance %d): %w", id, a.balance, ErrNonZeroClose)
	}
	delete(l.accounts, id)
	return nil
}

func (l *Ledger) Has(id AccountID) bool {
	_, ok := l.accounts[id]
	return ok
}

func (l *Ledger) Balance(id AccountID) int64 {
	if a, ok := l.accounts[id]; ok {
		return a.balance
	}
	return 0
}

func (l *Ledger) KindOf(id AccountID) (Kind, bool) {
	a, ok := l.accounts[id]
	if !ok {
		return "", false
	}
	return a.kind, true
}

// Transfer moves amount between two existing accounts. It is zero-sum.
func (l *Ledger) Transfer(from, to AccountID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer %s->%s %d: %w", from, to, amount, ErrNegativeAmount)
	}
	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("transfer from %s: %w", from, ErrUnknownAccount)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("transfer to %s: %w", to, ErrUnknownAccount)
	}
	if amount == 0 {
		return nil
	}
	src.balance = subChecked(src.balance, amount)
	dst.balance = addChecked(dst.balance, amount)
	if src.balance < 0 {
		l.recordOverdraft("transfer", from, amount, src.balance)
		return fmt.Errorf("transfer %s->%s %d: %w", from, to, amount, ErrOverdraft)
	}
	return nil
}

// MintTo brings coins in from outside the modeled economy.
func (l *Ledger) MintTo(target AccountID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("mint %s %d: %w", target, amount, ErrNegativeAmount)
	}
	a, ok := l.accounts[target]
	if !ok {
		return fmt.Errorf("mint %s: %w", target, ErrUnknownAccount)
	}
	a.balance = addChecked(a.balance, amount)
	l.inflow = addChecked(l.inflow, amount)
	return nil
}

// BurnFrom removes coins from the modeled economy for good.
func (l *Ledger) BurnFrom(target AccountID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("burn %s %d: %w", target, amount, ErrNegativeAmount)
	}
	a, ok := l.accounts[target]
	if !ok {
		return fmt.Errorf("burn %s: %w", target, ErrUnknownAccount)
	}
	a.balance = subChecked(a.balance, amount)
	l.outflow = addChecked(l.outflow, amount)
	if a.balance < 0 {
		l.recordOverdraft("burn", target, amount, a.balance)
		return fmt.Errorf("burn %s %d: %w", target, amount, ErrOverdraft)
	}
	return nil
}

func (l *Ledger) Inflow() int64  { return l.inflow }
func (l *Ledger) Outflow() int64 { return l.outflow }

// Sum totals every account of one kind.
func (l *Ledger) Sum(kind Kind) int64 {
	var total int64
	for _, a := range l.accounts {
		if a.kind == kind {
			total = addChecked(total, a.balance)
		}
	}
	return total
}

// Total is the whole money supply held in accounts.
func (l *Ledger) Total() int64 {
	var total int64
	for _, a := range l.accounts {
		total = addChecked(total, a.balance)
	}
	return total
}

// Accounts lists balances of one kind (all kinds when kind is empty) in id order.
func (l *Ledger) Accounts(kind Kind) []Balance {
	out := make([]Balance, 0, len(l.accounts))
	for id, a := range l.accounts {
		if kind != "" && a.kind != kind {
			continue
		}
		out = append(out, Balance{ID: id, Kind: a.kind, Balance: a.balance})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) Overdrafts() uint64 { return l.overdrafts }

// DrainViolations returns overdrafts recorded since the previous call.
func (l *Ledger) DrainViolations() []Violation {
	if len(l.pending) == 0 {
		return nil
	}
	out := l.pending
	l.pending = nil
	return out
}

func (l *Ledger) recordOverdraft(op string, id AccountID, amount, after int64) {
	l.overdrafts++
	l.pending = append(l.pending, Violation{Op: op, Account: id, Amount: amount, BalanceAfter: after})
}

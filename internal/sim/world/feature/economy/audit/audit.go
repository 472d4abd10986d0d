// Package audit reconciles the money supply against the ledger's external
// flow counters and looks for negative balances and stalled supply chains.
// It only reads and reports; repair belongs to the guardrail.
package audit

import (
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

const (
	CodeResidual        = "CONSERVATION_RESIDUAL"
	CodeNegativeBalance = "NEGATIVE_BALANCE"
	CodeNegativeItems   = "NEGATIVE_ITEMS"
	CodeNegativeEscrow  = "NEGATIVE_ESCROW_ITEMS"
	CodeOverdraft       = "LEDGER_OVERDRAFT"
	CodeStall           = "STALL"
	CodeSourceExhausted = "SOURCE_EXHAUSTED"
)

type Params struct {
	EveryTicks     uint64
	StallIdleTicks uint64

	Vendor string
	Buyer  string
	Item   string
}

// Pools is one observation of every money pool and both flow counters.
type Pools struct {
	Wallets int64 `json:"wallets"`
	Escrow  int64 `json:"escrow"`
	Budget  int64 `json:"budget"`
	Total   int64 `json:"total"`
	Inflow  int64 `json:"inflow"`
	Outflow int64 `json:"outflow"`
}

func Observe(l *ledger.Ledger) Pools {
	p := Pools{
		Wallets: l.Sum(ledger.KindWallet),
		Escrow:  l.Sum(ledger.KindEscrow),
		Budget:  l.Sum(ledger.KindBudget),
		Inflow:  l.Inflow(),
		Outflow: l.Outflow(),
	}
	p.Total = p.Wallets + p.Escrow + p.Budget
	return p
}

type Reconciliation struct {
	Expected     int64 `json:"expected"`
	Residual     int64 `json:"residual"`
	DeltaWallets int64 `json:"delta_wallets"`
	DeltaEscrow  int64 `json:"delta_escrow"`
	DeltaBudget  int64 `json:"delta_budget"`
	DeltaInflow  int64 `json:"delta_inflow"`
	DeltaOutflow int64 `json:"delta_outflow"`
}

// Reconcile compares cur against prev carried forward by this interval's
// external flows. Integer coins: any nonzero residual is a defect.
func Reconcile(prev, cur Pools) Reconciliation {
	r := Reconciliation{
		DeltaWallets: cur.Wallets - prev.Wallets,
		DeltaEscrow:  cur.Escrow - prev.Escrow,
		DeltaBudget:  cur.Budget - prev.Budget,
		DeltaInflow:  cur.Inflow - prev.Inflow,
		DeltaOutflow: cur.Outflow - prev.Outflow,
	}
	r.Expected = prev.Total + r.DeltaInflow - r.DeltaOutflow
	r.Residual = cur.Total - r.Expected
	return r
}

// Stages are the tracked quantities along the supply chain.
type Stages struct {
	OnOrder    int `json:"on_order"`
	VendorHand int `json:"vendor_hand"`
	AskEscrow  int `json:"ask_escrow"`
	BuyerHand  int `json:"buyer_hand"`
	Consumed   int `json:"consumed"`
}

type Auditor struct {
	p Params

	baselined bool
	prev      Pools

	stages       Stages
	stagesSet    bool
	lastChange   uint64
	reportedKind string

	residuals  int
	violations int
}

func New(p Params) *Auditor { return &Auditor{p: p} }

func (a *Auditor) Name() string { return "audit" }

// Counts are lifetime nonzero residuals and negativity violations reported.
func (a *Auditor) Counts() (residuals, violations int) { return a.residuals, a.violations }

func (a *Auditor) Tick(s *model.State, now uint64) {
	if a.p.EveryTicks == 0 || now%a.p.EveryTicks != 0 {
		return
	}
	a.Run(s, now)
}

// Run performs one audit regardless of cadence.
func (a *Auditor) Run(s *model.State, now uint64) model.AuditView {
	cur := Observe(s.Ledger)
	view := model.AuditView{Tick: now, Total: cur.Total, Expected: cur.Total}
	if !a.baselined {
		a.baselined = true
		view.Baseline = true
	} else {
		r := Reconcile(a.prev, cur)
		view.Expected = r.Expected
		view.Residual = r.Residual
		view.DeltaWallets = r.DeltaWallets
		view.DeltaEscrow = r.DeltaEscrow
		view.DeltaBudget = r.DeltaBudget
		if r.Residual != 0 {
			a.residuals++
			s.Report(model.SeverityError, CodeResidual, "", "money supply does not reconcile with external flows", map[string]any{
				"residual":      r.Residual,
				"expected":      r.Expected,
				"total":         cur.Total,
				"delta_wallets": r.DeltaWallets,
				"delta_escrow":  r.DeltaEscrow,
				"delta_budget":  r.DeltaBudget,
				"delta_inflow":  r.DeltaInflow,
				"delta_outflow": r.DeltaOutflow,
			})
		}
	}
	a.prev = cur

	view.Violations = a.scanNegatives(s)
	a.violations += view.Violations
	a.checkStall(s, now)

	s.Audit = view
	return view
}

func (a *Auditor) scanNegatives(s *model.State) int {
	n := 0
	for _, v := range s.Ledger.DrainViolations() {
		n++
		s.Report(model.SeverityError, CodeOverdraft, string(v.Account), "ledger operation overdrew an account", map[string]any{
			"op":            v.Op,
			"amount":        v.Amount,
			"balance_after": v.BalanceAfter,
		})
	}
	for _, b := range s.Ledger.Accounts("") {
		if b.Balance < 0 {
			n++
			s.Report(model.SeverityError, CodeNegativeBalance, string(b.ID), "negative balance", map[string]any{
				"kind":    string(b.Kind),
				"balance": b.Balance,
			})
		}
	}
	for _, id := range s.SortedParticipantIDs() {
		n += reportNegativeItems(s, id, s.Participants[id].Inventory)
	}
	for _, id := range s.SortedFacilityIDs() {
		n += reportNegativeItems(s, id, s.Facilities[id].Inventory)
	}
	for _, item := range s.SortedBookItems() {
		for _, o := range s.Books[item].Asks {
			if o.EscrowItems < 0 {
				n++
				s.Report(model.SeverityError, CodeNegativeEscrow, o.ID, "negative ask escrow", map[string]any{
					"owner":        o.Owner,
					"escrow_items": o.EscrowItems,
				})
			}
		}
	}
	return n
}

func reportNegativeItems(s *model.State, holder string, inv *model.Inventory) int {
	n := 0
	for _, item := range inv.SortedItems() {
		if c := inv.Items[item]; c < 0 {
			n++
			s.Report(model.SeverityError, CodeNegativeItems, holder, "negative item count", map[string]any{
				"item":  item,
				"count": c,
			})
		}
	}
	return n
}

// CurrentStages reads the tracked supply chain quantities.
func (a *Auditor) CurrentStages(s *model.State) Stages {
	st := Stages{Consumed: s.Consumed[a.p.Item]}
	if sup, ok := s.Supply[a.p.Item]; ok {
		st.OnOrder = sup.OnOrder
	}
	if v := s.Participant(a.p.Vendor); v != nil {
		st.VendorHand = v.Inventory.Count(a.p.Item)
	}
	if b, ok := s.Books[a.p.Item]; ok {
		st.AskEscrow = b.AskEscrow()
	}
	if b := s.Participant(a.p.Buyer); b != nil {
		st.BuyerHand = b.Inventory.Count(a.p.Item)
	}
	return st
}

// checkStall reports once per episode when no stage has moved for longer
// than the idle window while the vendor is still active.
func (a *Auditor) checkStall(s *model.State, now uint64) {
	if a.p.StallIdleTicks == 0 {
		return
	}
	cur := a.CurrentStages(s)
	if !a.stagesSet || cur != a.stages {
		a.stages = cur
		a.stagesSet = true
		a.lastChange = now
		a.reportedKind = ""
		return
	}
	if s.Participant(a.p.Vendor) == nil {
		return
	}
	if now-a.lastChange <= a.p.StallIdleTicks {
		return
	}
	kind := CodeStall
	if sup, ok := s.Supply[a.p.Item]; ok && sup.Blocked && cur.OnOrder == 0 {
		kind = CodeSourceExhausted
	}
	if kind == a.reportedKind {
		return
	}
	a.reportedKind = kind
	msg := "supply chain idle"
	if kind == CodeSourceExhausted {
		msg = "vendor cannot afford restock and nothing is on order"
	}
	s.Warn(kind, a.p.Item, msg, map[string]any{
		"idle_ticks":  now - a.lastChange,
		"on_order":    cur.OnOrder,
		"vendor_hand": cur.VendorHand,
		"ask_escrow":  cur.AskEscrow,
		"buyer_hand":  cur.BuyerHand,
		"consumed":    cur.Consumed,
	})
}

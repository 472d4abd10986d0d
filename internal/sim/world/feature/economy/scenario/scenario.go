// Package scenario perturbs a run. It may only use the ledger's mint, burn
// and transfer primitives or change the restock lead time, so every effect
// stays visible to the audit.
package scenario

import (
	"strings"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

type Kind string

const (
	Baseline    Kind = "baseline"
	FundingCut  Kind = "funding_cut"
	SupplyShock Kind = "supply_shock"
	Windfall    Kind = "windfall"
)

// Normalize maps a selector to a known kind. ok is false when the selector
// was not recognised and baseline was substituted.
func Normalize(sel string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(sel)))
	switch k {
	case "":
		return Baseline, true
	case Baseline, FundingCut, SupplyShock, Windfall:
		return k, true
	default:
		return Baseline, false
	}
}

// LeadTimer is the slice of the restock policy a scenario may touch.
type LeadTimer interface {
	LeadTime() uint64
	SetLeadTime(ticks uint64)
}

type Params struct {
	Kind      string
	StartTick uint64
	EndTick   uint64 // 0 = open ended

	// Amount is coins per tick burned from the budget (funding_cut, 0 drains
	// it) or minted once (windfall).
	Amount int64
	// Target receives a windfall; empty means the city budget.
	Target    string
	LeadTicks uint64
}

type Scenario struct {
	p       Params
	kind    Kind
	unknown bool
	restock LeadTimer
	saved   uint64
	shocked bool
	applied bool
	burned  int64
	minted  int64
}

func New(p Params, restock LeadTimer) *Scenario {
	k, ok := Normalize(p.Kind)
	return &Scenario{p: p, kind: k, unknown: !ok, restock: restock}
}

func (sc *Scenario) Name() string { return "scenario" }

func (sc *Scenario) Kind() Kind { return sc.kind }

// Flows are the lifetime coins this scenario burned and minted.
func (sc *Scenario) Flows() (burned, minted int64) { return sc.burned, sc.minted }

func (sc *Scenario) active(now uint64) bool {
	return now >= sc.p.StartTick && (sc.p.EndTick == 0 || now < sc.p.EndTick)
}

func (sc *Scenario) Tick(s *model.State, now uint64) {
	if sc.unknown {
		sc.unknown = false
		s.Warn("SCENARIO_UNKNOWN", sc.p.Kind, "unknown scenario selector, running baseline", nil)
	}
	switch sc.kind {
	case FundingCut:
		sc.fundingCut(s, now)
	case SupplyShock:
		sc.supplyShock(s, now)
	case Windfall:
		sc.windfall(s, now)
	}
}

func (sc *Scenario) fundingCut(s *model.State, now uint64) {
	if !sc.active(now) {
		return
	}
	bal := s.Ledger.Balance(ledger.BudgetAccount)
	amt := sc.p.Amount
	if amt <= 0 || amt > bal {
		amt = bal
	}
	if amt <= 0 {
		return
	}
	if err := s.Ledger.BurnFrom(ledger.BudgetAccount, amt); err != nil {
		s.Report(model.SeverityError, "SCENARIO_BURN_FAILED", string(ledger.BudgetAccount), err.Error(), nil)
		return
	}
	sc.burned += amt
	if now == sc.p.StartTick {
		s.Warn("SCENARIO_FUNDING_CUT", string(sc.kind), "budget funding interrupted", map[string]any{
			"start_tick": sc.p.StartTick,
			"end_tick":   sc.p.EndTick,
		})
	}
}

func (sc *Scenario) supplyShock(s *model.State, now uint64) {
	if sc.restock == nil {
		return
	}
	switch {
	case !sc.shocked && sc.active(now):
		sc.saved = sc.restock.LeadTime()
		sc.restock.SetLeadTime(sc.p.LeadTicks)
		sc.shocked = true
		s.Warn("SCENARIO_SUPPLY_SHOCK", string(sc.kind), "restock lead time raised", map[string]any{
			"from": sc.saved,
			"to":   sc.p.LeadTicks,
		})
	case sc.shocked && !sc.active(now):
		sc.restock.SetLeadTime(sc.saved)
		sc.shocked = false
		s.Report(model.SeverityInfo, "SCENARIO_SUPPLY_RESTORED", string(sc.kind), "restock lead time restored", map[string]any{
			"lead_ticks": sc.saved,
		})
	}
}

func (sc *Scenario) windfall(s *model.State, now uint64) {
	if sc.applied || now < sc.p.StartTick || sc.p.Amount <= 0 {
		return
	}
	target := ledger.BudgetAccount
	if sc.p.Target != "" {
		target = ledger.WalletAccount(sc.p.Target)
	}
	sc.applied = true
	if err := s.Ledger.MintTo(target, sc.p.Amount); err != nil {
		s.Report(model.SeverityError, "SCENARIO_MINT_FAILED", string(target), err.Error(), nil)
		return
	}
	sc.minted += sc.p.Amount
	s.Report(model.SeverityInfo, "SCENARIO_WINDFALL", string(target), "windfall minted", map[string]any{"amount": sc.p.Amount})
}

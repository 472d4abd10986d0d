// Package budget funds demand. Each interval the city budget is topped up
// from outside, decays at a daily rate, and hands the designated buyer an
// allocation sized by a linear demand curve with an AR(1) shock.
package budget

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

type Params struct {
	EveryTicks uint64
	TopUp      int64
	DailyDecay float64 // fraction of the budget kept after one day
	DaySeconds float64

	Buyer string
	Item  string

	Rho   float64
	Sigma float64
	Alpha float64
	Beta  float64

	Seed int64
}

type Model struct {
	p   Params
	rng *rand.Rand

	shock   float64
	pinned  bool
	residue decimal.Decimal

	lastTraded int
	primed     bool
	desired    float64
	allocation int64
	decayed    int64
}

func New(p Params) *Model {
	return &Model{
		p:   p,
		rng: rand.New(rand.NewSource(p.Seed)),
	}
}

func (m *Model) Name() string { return "budget" }

// PinShock fixes the shock at v and stops the noise process.
func (m *Model) PinShock(v float64) {
	m.shock = v
	m.pinned = true
}

func (m *Model) Shock() float64       { return m.shock }
func (m *Model) DesiredRate() float64 { return m.desired }
func (m *Model) Allocation() int64    { return m.allocation }

// Decayed is the lifetime number of coins burned by decay.
func (m *Model) Decayed() int64 { return m.decayed }

// Residue is the fractional decay owed but not yet burned.
func (m *Model) Residue() decimal.Decimal { return m.residue }

func (m *Model) Tick(s *model.State, now uint64) {
	if m.p.EveryTicks == 0 || now%m.p.EveryTicks != 0 {
		return
	}
	interval := s.IntervalSeconds(m.p.EveryTicks)

	if m.p.TopUp > 0 {
		if err := s.Ledger.MintTo(ledger.BudgetAccount, m.p.TopUp); err != nil {
			s.Report(model.SeverityError, "BUDGET_TOPUP_FAILED", string(ledger.BudgetAccount), err.Error(), nil)
		}
	}
	m.decay(s, interval)

	if !m.pinned {
		eta := (m.rng.Float64()*2 - 1) * m.p.Sigma
		m.shock = m.p.Rho*m.shock + eta
	}
	price := s.Prices[m.p.Item]
	m.desired = DesiredRate(m.p.Alpha, m.p.Beta, price, m.shock)

	m.allocation = Allocation(m.desired, price, s.Ledger.Balance(ledger.BudgetAccount))
	if m.allocation > 0 {
		to := ledger.WalletAccount(m.p.Buyer)
		if err := s.Ledger.Transfer(ledger.BudgetAccount, to, m.allocation); err != nil {
			s.Report(model.SeverityError, "BUDGET_ALLOCATION_FAILED", m.p.Buyer, err.Error(), map[string]any{"amount": m.allocation})
			m.allocation = 0
		}
	}

	traded := s.Traded[m.p.Item]
	if m.desired > 0 {
		s.Stats.RecordDemand(now, m.primed && traded == m.lastTraded)
	}
	m.lastTraded = traded
	m.primed = true

	s.Demand = model.DemandView{
		Shock:       m.shock,
		DesiredRate: m.desired,
		Allocation:  m.allocation,
	}
}

// decay accrues budget×(1−factor) exactly and burns its whole-coin part.
func (m *Model) decay(s *model.State, intervalSeconds float64) {
	factor := DecayFactor(m.p.DailyDecay, m.p.DaySeconds, intervalSeconds)
	bal := s.Ledger.Balance(ledger.BudgetAccount)
	if bal <= 0 || factor >= 1 {
		return
	}
	lost := decimal.NewFromInt(bal).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(factor)))
	m.residue = m.residue.Add(lost)
	burn := m.residue.Floor().IntPart()
	if burn > bal {
		burn = bal
	}
	if burn <= 0 {
		return
	}
	if err := s.Ledger.BurnFrom(ledger.BudgetAccount, burn); err != nil {
		s.Report(model.SeverityError, "BUDGET_DECAY_FAILED", string(ledger.BudgetAccount), err.Error(), map[string]any{"amount": burn})
		return
	}
	m.residue = m.residue.Sub(decimal.NewFromInt(burn))
	m.decayed += burn
}

// DecayFactor spreads a daily retention factor over intervals:
// dailyDecay^(1/intervalsPerDay).
func DecayFactor(dailyDecay, daySeconds, intervalSeconds float64) float64 {
	if dailyDecay <= 0 || dailyDecay >= 1 || daySeconds <= 0 || intervalSeconds <= 0 {
		return 1
	}
	intervalsPerDay := daySeconds / intervalSeconds
	return math.Pow(dailyDecay, 1/intervalsPerDay)
}

// DesiredRate is max(0, α − β·price + shock) units per second.
func DesiredRate(alpha, beta float64, price int64, shock float64) float64 {
	d := alpha - beta*float64(price) + shock
	if d < 0 {
		return 0
	}
	return d
}

// Allocation is min(budget, floor(desired×price)).
func Allocation(desired float64, price, budget int64) int64 {
	if desired <= 0 || price <= 0 || budget <= 0 {
		return 0
	}
	want := math.Floor(desired * float64(price))
	if want >= float64(budget) {
		return budget
	}
	return int64(want)
}

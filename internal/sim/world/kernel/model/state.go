package model

import (
	"fmt"
	"sort"

	"github.com/joonk7809/port-town-01/internal/sim/catalogs"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/stats"
)

type Role string

const (
	RoleVendor   Role = "vendor"
	RoleBuyer    Role = "buyer"
	RoleResident Role = "resident"
)

type Participant struct {
	ID        string
	Role      Role
	Inventory *Inventory

	// InRange is the movement layer's "at the market stall" signal.
	InRange bool
}

func (p *Participant) Wallet() ledger.AccountID { return ledger.WalletAccount(p.ID) }

// Facility is a storage location with no wallet.
type Facility struct {
	ID        string
	Inventory *Inventory
}

// UnclaimedFacility receives escrowed items whose seller no longer exists.
const UnclaimedFacility = "UNCLAIMED"

// Supply is the restock policy's published view of one commodity.
type Supply struct {
	Vendor  string
	OnOrder int
	// Blocked is set while the vendor cannot afford a single batch.
	Blocked bool
}

type DemandView struct {
	Shock       float64 `json:"shock"`
	DesiredRate float64 `json:"desired_rate"`
	Allocation  int64   `json:"allocation"`
}

// AuditView is the audit's last reconciliation, kept for readers.
type AuditView struct {
	Tick         uint64 `json:"tick"`
	Total        int64  `json:"total"`
	Expected     int64  `json:"expected"`
	Residual     int64  `json:"residual"`
	DeltaWallets int64  `json:"delta_wallets"`
	DeltaEscrow  int64  `json:"delta_escrow"`
	DeltaBudget  int64  `json:"delta_budget"`
	Violations   int    `json:"violations"`
	Baseline     bool   `json:"baseline"`
}

// State is the single mutable economy. Systems receive it in a fixed order
// once per tick; nothing else writes to it.
type State struct {
	TickRateHz int

	Ledger  *ledger.Ledger
	Catalog *catalogs.Catalogs
	Stats   *stats.MarketStats

	Participants map[string]*Participant
	Facilities   map[string]*Facility
	Books        map[string]*Book

	Prices   map[string]int64
	Supply   map[string]*Supply
	Consumed map[string]int
	// Traded is the lifetime number of units that changed hands per item.
	Traded map[string]int

	Demand DemandView
	Audit  AuditView

	nextOrderSeq uint64
	diags        []Diagnostic
	diagTotal    uint64
	now          uint64
}

func NewState(cats *catalogs.Catalogs, tickRateHz int) *State {
	if cats == nil {
		cats = catalogs.Default()
	}
	if tickRateHz <= 0 {
		tickRateHz = 10
	}
	s := &State{
		TickRateHz:   tickRateHz,
		Ledger:       ledger.New(),
		Catalog:      cats,
		Stats:        stats.NewMarketStats(uint64(tickRateHz)*10, uint64(tickRateHz)*60),
		Participants: map[string]*Participant{},
		Facilities:   map[string]*Facility{},
		Books:        map[string]*Book{},
		Prices:       map[string]int64{},
		Supply:       map[string]*Supply{},
		Consumed:     map[string]int{},
		Traded:       map[string]int{},
	}
	_ = s.Ledger.Open(ledger.BudgetAccount, ledger.KindBudget, 0)
	s.Facilities[UnclaimedFacility] = &Facility{ID: UnclaimedFacility, Inventory: NewInventory(0)}
	return s
}

// SeedBudget sets the city budget's genesis balance. It fails once money has
// moved into the budget.
func (s *State) SeedBudget(amount int64) error {
	if err := s.Ledger.Close(ledger.BudgetAccount); err != nil {
		return fmt.Errorf("seed budget: %w", err)
	}
	return s.Ledger.Open(ledger.BudgetAccount, ledger.KindBudget, amount)
}

// Now is the tick currently being processed.
func (s *State) Now() uint64 { return s.now }

// BeginTick is called by the world before the pipeline runs.
func (s *State) BeginTick(now uint64) { s.now = now }

// AddParticipant registers a participant and opens its wallet with a
// genesis balance.
func (s *State) AddParticipant(id string, role Role, wallet int64, capacity int, items map[string]int) (*Participant, error) {
	if id == "" {
		return nil, fmt.Errorf("participant: empty id")
	}
	if _, ok := s.Participants[id]; ok {
		return nil, fmt.Errorf("participant %s: already exists", id)
	}
	if err := s.Ledger.Open(ledger.WalletAccount(id), ledger.KindWallet, wallet); err != nil {
		return nil, fmt.Errorf("participant %s: %w", id, err)
	}
	p := &Participant{ID: id, Role: role, Inventory: NewInventory(capacity), InRange: true}
	for _, item := range sortedKeys(items) {
		p.Inventory.Add(item, items[item], s.UnitWeight(item))
	}
	s.Participants[id] = p
	return p, nil
}

// RemoveParticipant drops the participant record. Its wallet account stays in
// the ledger so refunds for its dangling orders still have somewhere to go.
func (s *State) RemoveParticipant(id string) {
	delete(s.Participants, id)
}

func (s *State) AddFacility(id string, capacity int) *Facility {
	if f, ok := s.Facilities[id]; ok {
		return f
	}
	f := &Facility{ID: id, Inventory: NewInventory(capacity)}
	s.Facilities[id] = f
	return f
}

func (s *State) Participant(id string) *Participant { return s.Participants[id] }

func (s *State) Book(item string) *Book {
	b, ok := s.Books[item]
	if !ok {
		b = NewBook(item)
		s.Books[item] = b
	}
	return b
}

func (s *State) UnitWeight(item string) int { return s.Catalog.UnitWeight(item) }

func (s *State) NewOrderID() string {
	s.nextOrderSeq++
	return OrderID(s.nextOrderSeq)
}

// IntervalSeconds converts a cadence in ticks to simulated seconds.
func (s *State) IntervalSeconds(everyTicks uint64) float64 {
	return float64(everyTicks) / float64(s.TickRateHz)
}

func (s *State) SortedParticipantIDs() []string { return sortedKeys(s.Participants) }
func (s *State) SortedFacilityIDs() []string    { return sortedKeys(s.Facilities) }
func (s *State) SortedBookItems() []string      { return sortedKeys(s.Books) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

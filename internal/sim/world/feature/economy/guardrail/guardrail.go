// Package guardrail repairs the narrow class of corruption that can be fixed
// without inventing value. It runs after the audit so the audit sees the
// damage first. Wallets are never touched.
package guardrail

import (
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/ledger"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

const (
	CodeItemsClamped    = "GUARDRAIL_ITEMS_CLAMPED"
	CodeWeightFixed     = "GUARDRAIL_WEIGHT_FIXED"
	CodeEscrowRestored  = "GUARDRAIL_ESCROW_RESTORED"
	CodeAskEscrowZeroed = "GUARDRAIL_ASK_ESCROW_ZEROED"
)

// Repairs counts corrections made in one pass.
type Repairs struct {
	ItemsClamped   int
	WeightsFixed   int
	EscrowRestored int
	AskZeroed      int
}

type Guardrail struct {
	total Repairs
}

func New() *Guardrail { return &Guardrail{} }

func (g *Guardrail) Name() string { return "guardrail" }

func (g *Guardrail) Total() Repairs { return g.total }

func (g *Guardrail) Tick(s *model.State, now uint64) {
	r := Apply(s)
	g.total.ItemsClamped += r.ItemsClamped
	g.total.WeightsFixed += r.WeightsFixed
	g.total.EscrowRestored += r.EscrowRestored
	g.total.AskZeroed += r.AskZeroed
}

// Apply runs one repair pass.
func Apply(s *model.State) Repairs {
	var r Repairs
	for _, id := range s.SortedParticipantIDs() {
		fixInventory(s, id, s.Participants[id].Inventory, &r)
	}
	for _, id := range s.SortedFacilityIDs() {
		fixInventory(s, id, s.Facilities[id].Inventory, &r)
	}
	for _, item := range s.SortedBookItems() {
		b := s.Books[item]
		for _, o := range b.Bids {
			bal := s.Ledger.Balance(o.EscrowAccount())
			if bal >= 0 {
				continue
			}
			// Pull the deficit from the owner so total money is unchanged.
			// The wallet may go negative; the audit will see it.
			err := s.Ledger.Transfer(ledger.WalletAccount(o.Owner), o.EscrowAccount(), -bal)
			r.EscrowRestored++
			fields := map[string]any{"owner": o.Owner, "deficit": -bal}
			if err != nil {
				fields["error"] = err.Error()
			}
			s.Warn(CodeEscrowRestored, o.ID, "negative bid escrow zeroed from owner wallet", fields)
		}
		for _, o := range b.Asks {
			if o.EscrowItems >= 0 {
				continue
			}
			r.AskZeroed++
			s.Warn(CodeAskEscrowZeroed, o.ID, "negative ask escrow zeroed", map[string]any{
				"owner":        o.Owner,
				"escrow_items": o.EscrowItems,
			})
			o.EscrowItems = 0
		}
	}
	return r
}

func fixInventory(s *model.State, holder string, inv *model.Inventory, r *Repairs) {
	for _, item := range inv.SortedItems() {
		if c := inv.Items[item]; c < 0 {
			r.ItemsClamped++
			s.Warn(CodeItemsClamped, holder, "negative item count clamped", map[string]any{
				"item":  item,
				"count": c,
			})
			delete(inv.Items, item)
		}
	}
	if w := inv.ComputeWeight(s.UnitWeight); w != inv.Weight {
		r.WeightsFixed++
		s.Report(model.SeverityInfo, CodeWeightFixed, holder, "stored weight recomputed", map[string]any{
			"stored":   inv.Weight,
			"computed": w,
		})
		inv.Weight = w
	}
}

// Package digest hashes the economy into a hex string so two runs can be
// compared tick by tick.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/joonk7809/port-town-01/internal/sim/world/io/digestcodec"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

func StateDigest(nowTick uint64, s *model.State) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestLedger(h, &tmp, s)
	digestHolders(h, &tmp, s)
	digestBooks(h, &tmp, s)
	digestMarket(h, &tmp, s)

	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestLedger(h hashWriter, tmp *[8]byte, s *model.State) {
	for _, a := range s.Ledger.Accounts("") {
		h.Write([]byte(a.ID))
		h.Write([]byte(a.Kind))
		digestWriteI64(h, tmp, a.Balance)
	}
	digestWriteI64(h, tmp, s.Ledger.Inflow())
	digestWriteI64(h, tmp, s.Ledger.Outflow())
	digestWriteU64(h, tmp, s.Ledger.Overdrafts())
}

func digestHolders(h hashWriter, tmp *[8]byte, s *model.State) {
	for _, id := range s.SortedParticipantIDs() {
		p := s.Participants[id]
		h.Write([]byte(id))
		h.Write([]byte(p.Role))
		h.Write([]byte{digestcodec.BoolByte(p.InRange)})
		digestInventory(h, tmp, p.Inventory)
	}
	for _, id := range s.SortedFacilityIDs() {
		h.Write([]byte(id))
		digestInventory(h, tmp, s.Facilities[id].Inventory)
	}
}

func digestInventory(h hashWriter, tmp *[8]byte, inv *model.Inventory) {
	digestWriteI64(h, tmp, int64(inv.Weight))
	digestWriteI64(h, tmp, int64(inv.Capacity))
	digestcodec.WriteSortedNonZeroIntMap(h, tmp, inv.Items)
}

func digestBooks(h hashWriter, tmp *[8]byte, s *model.State) {
	for _, item := range s.SortedBookItems() {
		b := s.Books[item]
		h.Write([]byte(item))
		digestWriteI64(h, tmp, int64(b.SoldUnits))
		for _, list := range [][]*model.Order{b.Bids, b.Asks} {
			digestWriteU64(h, tmp, uint64(len(list)))
			for _, o := range list {
				h.Write([]byte(o.ID))
				h.Write([]byte(o.Owner))
				h.Write([]byte{byte(o.Side)})
				digestWriteI64(h, tmp, int64(o.Qty))
				digestWriteI64(h, tmp, o.Price)
				digestWriteI64(h, tmp, int64(o.EscrowItems))
				digestWriteU64(h, tmp, o.PostTick)
				digestWriteU64(h, tmp, o.ExpireTick)
			}
		}
	}
}

func digestMarket(h hashWriter, tmp *[8]byte, s *model.State) {
	items := make([]string, 0, len(s.Prices))
	for item := range s.Prices {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		h.Write([]byte(item))
		digestWriteI64(h, tmp, s.Prices[item])
	}

	supply := make([]string, 0, len(s.Supply))
	for item := range s.Supply {
		supply = append(supply, item)
	}
	sort.Strings(supply)
	for _, item := range supply {
		sp := s.Supply[item]
		h.Write([]byte(item))
		h.Write([]byte(sp.Vendor))
		digestWriteI64(h, tmp, int64(sp.OnOrder))
		h.Write([]byte{digestcodec.BoolByte(sp.Blocked)})
	}

	digestcodec.WriteSortedNonZeroIntMap(h, tmp, s.Consumed)
	digestcodec.WriteSortedNonZeroIntMap(h, tmp, s.Traded)

	digestWriteF64(h, tmp, s.Demand.Shock)
	digestWriteF64(h, tmp, s.Demand.DesiredRate)
	digestWriteI64(h, tmp, s.Demand.Allocation)
}

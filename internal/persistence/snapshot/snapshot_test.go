package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "final.snap.zst")
	in := SnapshotV1{
		Header:   Header{Version: 1, RunID: "run-1", Tick: 600},
		Seed:     42,
		TickRate: 10,
		Scenario: "baseline",
		Accounts: []AccountV1{
			{ID: "CITY_BUDGET", Kind: "budget", Balance: 400},
			{ID: "escrow:OR000003", Kind: "escrow", Balance: 30},
			{ID: "wallet:B", Kind: "wallet", Balance: 70},
		},
		Participants: []ParticipantV1{{ID: "B", Role: "buyer", Items: map[string]int{"FISH": 4}}},
		Facilities:   []FacilityV1{{ID: "UNCLAIMED", Items: map[string]int{"FISH": 1}}},
		Orders:       []OrderV1{{ID: "OR000004", Side: "SELL", Item: "FISH", EscrowItems: 5}},
		Demand:       DemandV1{Residue: "0.25"},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h != in.Header {
		t.Fatalf("header=%+v want %+v", h, in.Header)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.MoneySupply() != 500 {
		t.Fatalf("money=%d want 500", out.MoneySupply())
	}
	if out.ItemCount("FISH") != 10 {
		t.Fatalf("fish=%d want 10", out.ItemCount("FISH"))
	}
	if out.Demand.Residue != "0.25" || out.Header.Tick != 600 {
		t.Fatalf("round trip lost fields: %+v", out)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error")
	}
}

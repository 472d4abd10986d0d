// Package snapshot writes an end-of-run picture of the economy for offline
// inspection. Snapshots are never loaded back into a running world.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed     int64  `json:"seed"`
	TickRate int    `json:"tick_rate_hz"`
	Scenario string `json:"scenario"`
	Digest   string `json:"digest"`

	Accounts   []AccountV1 `json:"accounts"`
	Inflow     int64       `json:"inflow"`
	Outflow    int64       `json:"outflow"`
	Overdrafts uint64      `json:"overdrafts"`

	Participants []ParticipantV1 `json:"participants"`
	Facilities   []FacilityV1    `json:"facilities"`
	Orders       []OrderV1       `json:"orders"`

	Prices   map[string]int64 `json:"prices"`
	Consumed map[string]int   `json:"consumed,omitempty"`
	Traded   map[string]int   `json:"traded,omitempty"`

	Pricing PricingV1     `json:"pricing"`
	Restock RestockV1     `json:"restock"`
	Demand  DemandV1      `json:"demand"`
	Audit   AuditV1       `json:"audit"`
	Stats   StatsBucketV1 `json:"stats"`
}

type AccountV1 struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Balance int64  `json:"balance"`
}

type ParticipantV1 struct {
	ID       string         `json:"id"`
	Role     string         `json:"role"`
	InRange  bool           `json:"in_range"`
	Capacity int            `json:"capacity"`
	Weight   int            `json:"weight"`
	Items    map[string]int `json:"items,omitempty"`
}

type FacilityV1 struct {
	ID    string         `json:"id"`
	Items map[string]int `json:"items,omitempty"`
}

type OrderV1 struct {
	ID          string `json:"id"`
	Side        string `json:"side"`
	Item        string `json:"item"`
	Owner       string `json:"owner"`
	Qty         int    `json:"qty"`
	Price       int64  `json:"price"`
	EscrowCoins int64  `json:"escrow_coins"`
	EscrowItems int    `json:"escrow_items"`
	PostTick    uint64 `json:"post_tick"`
	ExpireTick  uint64 `json:"expire_tick"`
}

type PricingV1 struct {
	Price    int64   `json:"price"`
	Integral float64 `json:"integral"`
	RateEMA  float64 `json:"rate_ema"`
	Cover    float64 `json:"cover"`
}

type RestockV1 struct {
	LeadTicks uint64       `json:"lead_ticks"`
	Blocked   bool         `json:"blocked"`
	Pending   []DeliveryV1 `json:"pending,omitempty"`
}

type DeliveryV1 struct {
	DueTick  uint64 `json:"due_tick"`
	Qty      int    `json:"qty"`
	CostPaid int64  `json:"cost_paid"`
}

type DemandV1 struct {
	Shock       float64 `json:"shock"`
	DesiredRate float64 `json:"desired_rate"`
	Allocation  int64   `json:"allocation"`
	// Residue is the budget decay owed but not yet burned, as a decimal string.
	Residue string `json:"residue"`
}

type AuditV1 struct {
	Tick       uint64 `json:"tick"`
	Total      int64  `json:"total"`
	Expected   int64  `json:"expected"`
	Residual   int64  `json:"residual"`
	Violations int    `json:"violations"`
}

type StatsBucketV1 struct {
	Trades           int    `json:"trades"`
	UnitsSold        int    `json:"units_sold"`
	Coins            int64  `json:"coins"`
	Fills            int    `json:"fills"`
	FillTicks        uint64 `json:"fill_ticks"`
	Cancelled        int    `json:"cancelled"`
	Expired          int    `json:"expired"`
	DemandIntervals  int    `json:"demand_intervals"`
	StarvedIntervals int    `json:"starved_intervals"`
}

// MoneySupply sums every account in the snapshot.
func (s SnapshotV1) MoneySupply() int64 {
	var total int64
	for _, a := range s.Accounts {
		total += a.Balance
	}
	return total
}

// ItemCount sums one item across holders and open ask escrow.
func (s SnapshotV1) ItemCount(item string) int {
	n := 0
	for _, p := range s.Participants {
		n += p.Items[item]
	}
	for _, f := range s.Facilities {
		n += f.Items[item]
	}
	for _, o := range s.Orders {
		if o.Item == item {
			n += o.EscrowItems
		}
	}
	return n
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is a JSON preview for tools; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

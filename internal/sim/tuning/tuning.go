package tuning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int    `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	Seed       int64  `yaml:"seed" json:"seed"`
	RunTicks   uint64 `yaml:"run_ticks" json:"run_ticks"`

	Item          string `yaml:"item" json:"item"`
	Vendor        string `yaml:"vendor" json:"vendor"`
	Buyer         string `yaml:"buyer" json:"buyer"`
	InitialPrice  int64  `yaml:"initial_price" json:"initial_price"`
	BudgetGenesis int64  `yaml:"budget_genesis" json:"budget_genesis"`

	Participants []Participant `yaml:"participants" json:"participants"`

	Market    Market    `yaml:"market" json:"market"`
	Restock   Restock   `yaml:"restock" json:"restock"`
	Pricing   Pricing   `yaml:"pricing" json:"pricing"`
	Budget    Budget    `yaml:"budget" json:"budget"`
	Audit     Audit     `yaml:"audit" json:"audit"`
	Trader    Trader    `yaml:"trader" json:"trader"`
	Scenario  Scenario  `yaml:"scenario" json:"scenario"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry"`
}

type Participant struct {
	ID       string         `yaml:"id" json:"id"`
	Role     string         `yaml:"role" json:"role"`
	Wallet   int64          `yaml:"wallet" json:"wallet"`
	Capacity int            `yaml:"capacity" json:"capacity"`
	Items    map[string]int `yaml:"items" json:"items,omitempty"`
}

type Market struct {
	CleanupEveryTicks uint64 `yaml:"cleanup_every_ticks" json:"cleanup_every_ticks"`
}

type Restock struct {
	EveryTicks   uint64 `yaml:"every_ticks" json:"every_ticks"`
	ReorderPoint int    `yaml:"reorder_point" json:"reorder_point"`
	OrderUpTo    int    `yaml:"order_up_to" json:"order_up_to"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
	// UnitCost is a decimal string so fractional wholesale prices stay exact.
	UnitCost     string `yaml:"unit_cost" json:"unit_cost"`
	LeadTicks    uint64 `yaml:"lead_ticks" json:"lead_ticks"`
	CountOnOrder bool   `yaml:"count_on_order" json:"count_on_order"`
}

// UnitCostDecimal parses UnitCost. Validate has already rejected bad input.
func (r Restock) UnitCostDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(r.UnitCost)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type Pricing struct {
	EveryTicks         uint64  `yaml:"every_ticks" json:"every_ticks"`
	TargetCoverSeconds float64 `yaml:"target_cover_seconds" json:"target_cover_seconds"`
	DeadbandSeconds    float64 `yaml:"deadband_seconds" json:"deadband_seconds"`
	MaxCoverSeconds    float64 `yaml:"max_cover_seconds" json:"max_cover_seconds"`
	Kp                 float64 `yaml:"kp" json:"kp"`
	Ki                 float64 `yaml:"ki" json:"ki"`
	IntegralMax        float64 `yaml:"integral_max" json:"integral_max"`
	EMAAlpha           float64 `yaml:"ema_alpha" json:"ema_alpha"`
	Epsilon            float64 `yaml:"epsilon" json:"epsilon"`
	MaxStep            float64 `yaml:"max_step" json:"max_step"`
	PriceMin           int64   `yaml:"price_min" json:"price_min"`
	PriceMax           int64   `yaml:"price_max" json:"price_max"`
}

type Budget struct {
	EveryTicks uint64  `yaml:"every_ticks" json:"every_ticks"`
	TopUp      int64   `yaml:"top_up" json:"top_up"`
	DailyDecay float64 `yaml:"daily_decay" json:"daily_decay"`
	DaySeconds float64 `yaml:"day_seconds" json:"day_seconds"`
	Rho        float64 `yaml:"rho" json:"rho"`
	Sigma      float64 `yaml:"sigma" json:"sigma"`
	Alpha      float64 `yaml:"alpha" json:"alpha"`
	Beta       float64 `yaml:"beta" json:"beta"`
}

type Audit struct {
	EveryTicks     uint64 `yaml:"every_ticks" json:"every_ticks"`
	StallIdleTicks uint64 `yaml:"stall_idle_ticks" json:"stall_idle_ticks"`
}

type Trader struct {
	QuoteEveryTicks    uint64 `yaml:"quote_every_ticks" json:"quote_every_ticks"`
	QuoteLot           int    `yaml:"quote_lot" json:"quote_lot"`
	AskTTLTicks        uint64 `yaml:"ask_ttl_ticks" json:"ask_ttl_ticks"`
	BidEveryTicks      uint64 `yaml:"bid_every_ticks" json:"bid_every_ticks"`
	BidTTLTicks        uint64 `yaml:"bid_ttl_ticks" json:"bid_ttl_ticks"`
	ConsumePerInterval int    `yaml:"consume_per_interval" json:"consume_per_interval"`
}

type Scenario struct {
	Kind      string `yaml:"kind" json:"kind"`
	StartTick uint64 `yaml:"start_tick" json:"start_tick"`
	EndTick   uint64 `yaml:"end_tick" json:"end_tick"`
	Amount    int64  `yaml:"amount" json:"amount"`
	Target    string `yaml:"target" json:"target"`
	LeadTicks uint64 `yaml:"lead_ticks" json:"lead_ticks"`
}

type Telemetry struct {
	SampleEveryTicks uint64     `yaml:"sample_every_ticks" json:"sample_every_ticks"`
	Thresholds       Thresholds `yaml:"thresholds" json:"thresholds"`
}

type Thresholds struct {
	MaxAbsResidual       int64   `yaml:"max_abs_residual" json:"max_abs_residual"`
	MaxStarvationRate    float64 `yaml:"max_starvation_rate" json:"max_starvation_rate"`
	MaxQueueDelaySeconds float64 `yaml:"max_queue_delay_seconds" json:"max_queue_delay_seconds"`
}

// Load reads tuning.yaml, checks it against the embedded schema and fills
// anything left unset with defaults.
func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	var t Tuning
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if doc != nil {
		if err := validateDoc(doc); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Default is the built-in configuration used when no file is given.
func Default() Tuning {
	var t Tuning
	t.ApplyDefaults()
	return t
}

func (t *Tuning) ApplyDefaults() {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 10
	}
	if t.RunTicks == 0 {
		t.RunTicks = 36000
	}
	if t.Item == "" {
		t.Item = "FISH"
	}
	if t.Vendor == "" {
		t.Vendor = "VENDOR"
	}
	if t.Buyer == "" {
		t.Buyer = "BUYER"
	}
	if t.InitialPrice <= 0 {
		t.InitialPrice = 10
	}
	if t.BudgetGenesis == 0 {
		t.BudgetGenesis = 5000
	}
	if t.Participants == nil {
		t.Participants = []Participant{
			{ID: t.Vendor, Role: "vendor", Wallet: 2000, Items: map[string]int{t.Item: 40}},
			{ID: t.Buyer, Role: "buyer", Capacity: 40},
		}
	}

	if t.Market.CleanupEveryTicks == 0 {
		t.Market.CleanupEveryTicks = 10
	}

	r := &t.Restock
	if r.EveryTicks == 0 {
		r.EveryTicks = 50
	}
	if r.ReorderPoint == 0 {
		r.ReorderPoint = 30
	}
	if r.OrderUpTo == 0 {
		r.OrderUpTo = 90
	}
	if r.BatchSize == 0 {
		r.BatchSize = 10
	}
	if r.UnitCost == "" {
		r.UnitCost = "4.25"
	}
	if r.LeadTicks == 0 {
		r.LeadTicks = 100
	}

	p := &t.Pricing
	if p.EveryTicks == 0 {
		p.EveryTicks = 50
	}
	if p.TargetCoverSeconds == 0 {
		p.TargetCoverSeconds = 60
	}
	if p.DeadbandSeconds == 0 {
		p.DeadbandSeconds = 5
	}
	if p.MaxCoverSeconds == 0 {
		p.MaxCoverSeconds = 3600
	}
	if p.Kp == 0 {
		p.Kp = 0.002
	}
	if p.Ki == 0 {
		p.Ki = 0.0002
	}
	if p.IntegralMax == 0 {
		p.IntegralMax = 2000
	}
	if p.EMAAlpha == 0 {
		p.EMAAlpha = 0.3
	}
	if p.Epsilon == 0 {
		p.Epsilon = 1e-6
	}
	if p.MaxStep == 0 {
		p.MaxStep = 0.05
	}
	if p.PriceMin == 0 {
		p.PriceMin = 1
	}
	if p.PriceMax == 0 {
		p.PriceMax = 100
	}

	b := &t.Budget
	if b.EveryTicks == 0 {
		b.EveryTicks = uint64(t.TickRateHz)
	}
	if b.TopUp == 0 {
		b.TopUp = 10
	}
	if b.DailyDecay == 0 {
		b.DailyDecay = 0.99
	}
	if b.DaySeconds == 0 {
		b.DaySeconds = 86400
	}
	if b.Rho == 0 {
		b.Rho = 0.9
	}
	if b.Sigma == 0 {
		b.Sigma = 0.1
	}
	if b.Alpha == 0 {
		b.Alpha = 1.5
	}
	if b.Beta == 0 {
		b.Beta = 0.05
	}

	if t.Audit.EveryTicks == 0 {
		t.Audit.EveryTicks = 50
	}
	if t.Audit.StallIdleTicks == 0 {
		t.Audit.StallIdleTicks = 600
	}

	tr := &t.Trader
	if tr.QuoteEveryTicks == 0 {
		tr.QuoteEveryTicks = 10
	}
	if tr.QuoteLot == 0 {
		tr.QuoteLot = 20
	}
	if tr.AskTTLTicks == 0 {
		tr.AskTTLTicks = 600
	}
	if tr.BidEveryTicks == 0 {
		tr.BidEveryTicks = 10
	}
	if tr.BidTTLTicks == 0 {
		tr.BidTTLTicks = 100
	}
	if tr.ConsumePerInterval == 0 {
		tr.ConsumePerInterval = 1
	}

	if t.Scenario.Kind == "" {
		t.Scenario.Kind = "baseline"
	}

	if t.Telemetry.SampleEveryTicks == 0 {
		t.Telemetry.SampleEveryTicks = uint64(t.TickRateHz)
	}
	th := &t.Telemetry.Thresholds
	if th.MaxStarvationRate == 0 {
		th.MaxStarvationRate = 0.25
	}
	if th.MaxQueueDelaySeconds == 0 {
		th.MaxQueueDelaySeconds = 30
	}
}

// Validate checks relations the schema cannot express.
func (t Tuning) Validate() error {
	if t.Restock.OrderUpTo < t.Restock.ReorderPoint {
		return fmt.Errorf("restock: order_up_to %d below reorder_point %d", t.Restock.OrderUpTo, t.Restock.ReorderPoint)
	}
	cost, err := decimal.NewFromString(t.Restock.UnitCost)
	if err != nil {
		return fmt.Errorf("restock: unit_cost %q: %w", t.Restock.UnitCost, err)
	}
	if cost.Sign() < 0 {
		return fmt.Errorf("restock: unit_cost %s is negative", t.Restock.UnitCost)
	}
	if t.Pricing.PriceMin > t.Pricing.PriceMax {
		return fmt.Errorf("pricing: price_min %d above price_max %d", t.Pricing.PriceMin, t.Pricing.PriceMax)
	}
	seen := map[string]bool{}
	for _, p := range t.Participants {
		if seen[p.ID] {
			return fmt.Errorf("participants: duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen[t.Vendor] {
		return fmt.Errorf("vendor %s is not a participant", t.Vendor)
	}
	if !seen[t.Buyer] {
		return fmt.Errorf("buyer %s is not a participant", t.Buyer)
	}
	return nil
}

// normalizeJSON turns a YAML document into the value shapes the schema
// validator expects (string keys, json.Number).
func normalizeJSON(doc any) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_EmptyUsesDefaults(t *testing.T) {
	got, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.TickRateHz != 10 || got.Item != "FISH" || got.Budget.EveryTicks != 10 {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if len(got.Participants) != 2 {
		t.Fatalf("participants=%d want 2", len(got.Participants))
	}
	if got.Restock.UnitCostDecimal().String() != "4.25" {
		t.Fatalf("unit cost=%s", got.Restock.UnitCostDecimal())
	}
}

func TestParse_OverridesAndKeepsDefaults(t *testing.T) {
	raw := []byte(`
tick_rate_hz: 20
seed: 7
restock:
  reorder_point: 35
  order_up_to: 70
  batch_size: 7
  unit_cost: "0.34"
scenario:
  kind: funding_cut
  start_tick: 100
`)
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.TickRateHz != 20 || got.Seed != 7 {
		t.Fatalf("top level=%+v", got)
	}
	if got.Restock.ReorderPoint != 35 || got.Restock.BatchSize != 7 || got.Restock.LeadTicks != 100 {
		t.Fatalf("restock=%+v", got.Restock)
	}
	// Cadences derived from the tick rate follow the override.
	if got.Budget.EveryTicks != 20 {
		t.Fatalf("budget every=%d want 20", got.Budget.EveryTicks)
	}
	if got.Scenario.Kind != "funding_cut" || got.Scenario.StartTick != 100 {
		t.Fatalf("scenario=%+v", got.Scenario)
	}
}

func TestParse_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "tick_rate: 10\n",
		"negative wallet":  "participants:\n  - {id: A, role: buyer, wallet: -1}\n",
		"bad role":         "participants:\n  - {id: A, role: pirate}\n",
		"float unit cost":  "restock:\n  unit_cost: 4.25\n",
		"decay above one":  "budget:\n  daily_decay: 1.5\n",
		"zero tick rate":   "tick_rate_hz: 0\n",
		"string for count": "trader:\n  quote_lot: many\n",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParse_CrossFieldChecks(t *testing.T) {
	if _, err := Parse([]byte("restock:\n  reorder_point: 50\n  order_up_to: 40\n")); err == nil {
		t.Fatalf("expected S < s to fail")
	}
	if _, err := Parse([]byte("pricing:\n  price_min: 50\n  price_max: 10\n")); err == nil {
		t.Fatalf("expected price band to fail")
	}
	_, err := Parse([]byte("vendor: NOBODY\nparticipants:\n  - {id: BUYER, role: buyer}\n"))
	if err == nil || !strings.Contains(err.Error(), "NOBODY") {
		t.Fatalf("expected missing vendor error, got %v", err)
	}

	// Configs built in code skip the schema, so Validate must catch this.
	cfg := Default()
	cfg.Restock.UnitCost = "-3"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative unit_cost to fail, got %v", err)
	}
	cfg.Restock.UnitCost = "0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("free restock should be allowed: %v", err)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	p := filepath.Join("..", "..", "..", "configs", "tuning.yaml")
	if _, err := os.Stat(p); err != nil {
		t.Skip("configs/tuning.yaml not present")
	}
	if _, err := Load(p); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("PORT_TOWN_RUN_TICKS", "500")
	t.Setenv("PORT_TOWN_SCENARIO", "windfall")
	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	tu := Default()
	e.Apply(&tu)
	if tu.RunTicks != 500 || tu.Scenario.Kind != "windfall" {
		t.Fatalf("env not applied: run=%d scenario=%s", tu.RunTicks, tu.Scenario.Kind)
	}
	if tu.Seed != 0 {
		t.Fatalf("unset seed changed")
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("PORT_TOWN_SEED", "not-an-int")
	_, err := ParseEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

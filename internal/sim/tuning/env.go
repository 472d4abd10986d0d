package tuning

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process overrides. Zero values leave the file's setting alone.
type Env struct {
	RunTicks     uint64 `env:"PORT_TOWN_RUN_TICKS"`
	Seed         int64  `env:"PORT_TOWN_SEED"`
	Scenario     string `env:"PORT_TOWN_SCENARIO"`
	DataDir      string `env:"PORT_TOWN_DATA_DIR"`
	ObserverAddr string `env:"PORT_TOWN_OBSERVER_ADDR"`
}

// ParseEnv loads overrides from the environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Apply copies the simulation overrides onto t.
func (e Env) Apply(t *Tuning) {
	if e.RunTicks != 0 {
		t.RunTicks = e.RunTicks
	}
	if e.Seed != 0 {
		t.Seed = e.Seed
	}
	if e.Scenario != "" {
		t.Scenario.Kind = e.Scenario
	}
}

package world

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/joonk7809/port-town-01/internal/sim/catalogs"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/audit"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/budget"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/guardrail"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/market"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/pricing"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/restock"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/scenario"
	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/trader"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

var ErrBusy = errors.New("world: request queue full")

// System is one pass over the state. Systems run in a fixed order every tick
// and decide their own cadence from the tick number.
type System interface {
	Name() string
	Tick(s *model.State, now uint64)
}

type TickLogEntry struct {
	Tick        uint64           `json:"tick"`
	Digest      string           `json:"digest"`
	Total       int64            `json:"total"`
	Prices      map[string]int64 `json:"prices"`
	Diagnostics int              `json:"diagnostics"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type DiagnosticLogger interface {
	WriteDiagnostic(d model.Diagnostic) error
}

type rangeReq struct {
	ID      string
	InRange bool
}

// World is a single-threaded authoritative economy.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg   tuning.Tuning
	state *model.State

	tick atomic.Uint64

	systems []System

	scenario  *scenario.Scenario
	trader    *trader.Trader
	restock   *restock.Policy
	pricing   *pricing.Controller
	budget    *budget.Model
	auditor   *audit.Auditor
	guardrail *guardrail.Guardrail

	inRange chan rangeReq
	leave   chan string
	stop    chan struct{}
	stopped atomic.Bool

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger
	diagLogger DiagnosticLogger
	logErrors  uint64

	// Called on the loop goroutine after each tick's metrics are published.
	metricsObservers []func(WorldMetrics)

	lastDigest string
	metrics    atomic.Value
}

// New builds the state from configuration and wires the pipeline.
func New(cfg tuning.Tuning, cats *catalogs.Catalogs) (*World, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := model.NewState(cats, cfg.TickRateHz)
	if err := s.SeedBudget(cfg.BudgetGenesis); err != nil {
		return nil, err
	}
	for _, p := range cfg.Participants {
		if _, err := s.AddParticipant(p.ID, model.Role(p.Role), p.Wallet, p.Capacity, p.Items); err != nil {
			return nil, fmt.Errorf("world: %w", err)
		}
	}
	s.Prices[cfg.Item] = cfg.InitialPrice

	w := &World{
		cfg:     cfg,
		state:   s,
		inRange: make(chan rangeReq, 64),
		leave:   make(chan string, 16),
		stop:    make(chan struct{}),
	}

	w.restock = restock.New(restock.Params{
		Vendor:       cfg.Vendor,
		Item:         cfg.Item,
		EveryTicks:   cfg.Restock.EveryTicks,
		ReorderPoint: cfg.Restock.ReorderPoint,
		OrderUpTo:    cfg.Restock.OrderUpTo,
		BatchSize:    cfg.Restock.BatchSize,
		UnitCost:     cfg.Restock.UnitCostDecimal(),
		LeadTicks:    cfg.Restock.LeadTicks,
		CountOnOrder: cfg.Restock.CountOnOrder,
	})
	w.scenario = scenario.New(scenario.Params{
		Kind:      cfg.Scenario.Kind,
		StartTick: cfg.Scenario.StartTick,
		EndTick:   cfg.Scenario.EndTick,
		Amount:    cfg.Scenario.Amount,
		Target:    cfg.Scenario.Target,
		LeadTicks: cfg.Scenario.LeadTicks,
	}, w.restock)
	w.trader = trader.New(trader.Params{
		Vendor:             cfg.Vendor,
		Buyer:              cfg.Buyer,
		Item:               cfg.Item,
		QuoteEveryTicks:    cfg.Trader.QuoteEveryTicks,
		QuoteLot:           cfg.Trader.QuoteLot,
		AskTTLTicks:        cfg.Trader.AskTTLTicks,
		BidEveryTicks:      cfg.Trader.BidEveryTicks,
		BidTTLTicks:        cfg.Trader.BidTTLTicks,
		ConsumePerInterval: cfg.Trader.ConsumePerInterval,
	})
	w.pricing = pricing.New(pricing.Params{
		Item:               cfg.Item,
		Vendor:             cfg.Vendor,
		EveryTicks:         cfg.Pricing.EveryTicks,
		TargetCoverSeconds: cfg.Pricing.TargetCoverSeconds,
		DeadbandSeconds:    cfg.Pricing.DeadbandSeconds,
		MaxCoverSeconds:    cfg.Pricing.MaxCoverSeconds,
		Kp:                 cfg.Pricing.Kp,
		Ki:                 cfg.Pricing.Ki,
		IntegralMax:        cfg.Pricing.IntegralMax,
		EMAAlpha:           cfg.Pricing.EMAAlpha,
		Epsilon:            cfg.Pricing.Epsilon,
		MaxStep:            cfg.Pricing.MaxStep,
		PriceMin:           cfg.Pricing.PriceMin,
		PriceMax:           cfg.Pricing.PriceMax,
	}, cfg.InitialPrice)
	w.budget = budget.New(budget.Params{
		EveryTicks: cfg.Budget.EveryTicks,
		TopUp:      cfg.Budget.TopUp,
		DailyDecay: cfg.Budget.DailyDecay,
		DaySeconds: cfg.Budget.DaySeconds,
		Buyer:      cfg.Buyer,
		Item:       cfg.Item,
		Rho:        cfg.Budget.Rho,
		Sigma:      cfg.Budget.Sigma,
		Alpha:      cfg.Budget.Alpha,
		Beta:       cfg.Budget.Beta,
		Seed:       cfg.Seed,
	})
	w.auditor = audit.New(audit.Params{
		EveryTicks:     cfg.Audit.EveryTicks,
		StallIdleTicks: cfg.Audit.StallIdleTicks,
		Vendor:         cfg.Vendor,
		Buyer:          cfg.Buyer,
		Item:           cfg.Item,
	})
	w.guardrail = guardrail.New()

	// Audit reads only after every mutation; the guardrail repairs last.
	w.systems = []System{
		w.scenario,
		w.trader,
		market.Matcher{},
		market.Cleaner{EveryTicks: cfg.Market.CleanupEveryTicks},
		w.restock,
		w.pricing,
		w.budget,
		w.auditor,
		w.guardrail,
	}

	w.publishMetrics(0, 0)
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)             { w.tickLogger = l }
func (w *World) SetDiagnosticLogger(l DiagnosticLogger) { w.diagLogger = l }

// OnMetrics registers fn to receive every tick's metrics. fn runs on the
// world loop goroutine and must not block.
func (w *World) OnMetrics(fn func(WorldMetrics)) {
	w.metricsObservers = append(w.metricsObservers, fn)
}

func (w *World) Config() tuning.Tuning { return w.cfg }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// SystemNames lists the pipeline in execution order.
func (w *World) SystemNames() []string {
	out := make([]string, 0, len(w.systems))
	for _, sys := range w.systems {
		out = append(out, sys.Name())
	}
	return out
}

// SetInRange is the movement layer's hook. The change takes effect at the
// start of the next tick.
func (w *World) SetInRange(participantID string, inRange bool) error {
	select {
	case w.inRange <- rangeReq{ID: participantID, InRange: inRange}:
		return nil
	default:
		return ErrBusy
	}
}

// Leave removes a participant at the next tick boundary. Its open orders stay
// in the book and are unwound by matching.
func (w *World) Leave(participantID string) error {
	select {
	case w.leave <- participantID:
		return nil
	default:
		return ErrBusy
	}
}

// State exposes the economy for tests and end-of-run export. It must not be
// used while Run is active.
func (w *World) State() *model.State { return w.state }

// Package pricing is a PI controller that moves a commodity's price toward a
// target inventory cover (seconds of supply at the smoothed sell rate).
package pricing

import (
	"math"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/economy/market"
	"github.com/joonk7809/port-town-01/internal/sim/world/kernel/model"
)

type Params struct {
	Item   string
	Vendor string

	EveryTicks         uint64
	TargetCoverSeconds float64
	DeadbandSeconds    float64
	MaxCoverSeconds    float64
	Kp                 float64
	Ki                 float64
	IntegralMax        float64
	EMAAlpha           float64
	Epsilon            float64
	MaxStep            float64 // fraction of price per interval

	PriceMin int64
	PriceMax int64
}

// State is the controller's memory between intervals.
type State struct {
	Price    int64   `json:"price"`
	Integral float64 `json:"integral"`
	RateEMA  float64 `json:"rate_ema"`
	Cover    float64 `json:"cover"`
	Error    float64 `json:"error"`
	Signal   float64 `json:"signal"`
	Frozen   bool    `json:"frozen"`
}

type Controller struct {
	p  Params
	st State
}

func New(p Params, initialPrice int64) *Controller {
	if p.Epsilon <= 0 {
		p.Epsilon = 1e-6
	}
	c := &Controller{p: p}
	c.st.Price = clampPrice(initialPrice, p.PriceMin, p.PriceMax)
	return c
}

func (c *Controller) Name() string { return "pricing" }

func (c *Controller) State() State { return c.st }

func (c *Controller) Params() Params { return c.p }

func (c *Controller) Tick(s *model.State, now uint64) {
	if _, ok := s.Prices[c.p.Item]; !ok {
		s.Prices[c.p.Item] = c.st.Price
	}
	if c.p.EveryTicks == 0 || now%c.p.EveryTicks != 0 {
		return
	}
	b := s.Book(c.p.Item)
	sold := b.SoldUnits
	b.SoldUnits = 0

	c.st.Price = s.Prices[c.p.Item]
	avail := market.AvailableForSale(s, c.p.Vendor, c.p.Item)
	before := c.st.Price
	c.Observe(sold, s.IntervalSeconds(c.p.EveryTicks), avail)
	s.Prices[c.p.Item] = c.st.Price

	if c.st.Price != before {
		s.Report(model.SeverityInfo, "PRICE_ADJUSTED", c.p.Item, "price moved", map[string]any{
			"from":     before,
			"to":       c.st.Price,
			"cover":    c.st.Cover,
			"error":    c.st.Error,
			"integral": c.st.Integral,
		})
	}
}

// Observe runs one control interval from the units sold during it and the
// stock available for sale at its end.
func (c *Controller) Observe(sold int, intervalSeconds float64, available int) State {
	rate := 0.0
	if intervalSeconds > 0 {
		rate = float64(sold) / intervalSeconds
	}
	c.st.RateEMA = c.p.EMAAlpha*rate + (1-c.p.EMAAlpha)*c.st.RateEMA
	c.st.Cover = Cover(available, c.st.RateEMA, c.p.Epsilon, c.p.MaxCoverSeconds)
	c.st.Error = Deadband(c.p.TargetCoverSeconds-c.st.Cover, c.p.DeadbandSeconds)
	c.st.Price, c.st.Integral, c.st.Signal, c.st.Frozen = Step(c.p, c.st.Price, c.st.Integral, c.st.Error)
	return c.st
}

// Cover is seconds of supply at the smoothed rate. A rate at or below eps
// reads as maxCover so an idle market puts no upward pressure on price.
func Cover(available int, rate, eps, maxCover float64) float64 {
	if available < 0 {
		available = 0
	}
	if rate <= eps {
		return maxCover
	}
	cover := float64(available) / math.Max(eps, rate)
	if maxCover > 0 && cover > maxCover {
		return maxCover
	}
	return cover
}

func Deadband(e, band float64) float64 {
	if math.Abs(e) < band {
		return 0
	}
	return e
}

// Step applies one PI update. The integral is frozen when the new price sits
// on a bound and the error pushes further out. A nonzero error always moves
// the price at least one coin in the direction of u; inside the dead-band the
// price follows round(price·e^u) alone.
func Step(p Params, price int64, integral, e float64) (next int64, nextIntegral, u float64, frozen bool) {
	nextIntegral = clampFloat(integral+e, p.IntegralMax)
	u = p.Kp*e + p.Ki*nextIntegral
	next = Propose(price, u, p.MaxStep, p.PriceMin, p.PriceMax)
	if e != 0 {
		next = nudge(price, next, u, p.PriceMin, p.PriceMax)
	}
	if (next >= p.PriceMax && e > 0) || (next <= p.PriceMin && e < 0) {
		frozen = true
		nextIntegral = integral
		u = p.Kp*e + p.Ki*nextIntegral
		next = nudge(price, Propose(price, u, p.MaxStep, p.PriceMin, p.PriceMax), u, p.PriceMin, p.PriceMax)
	}
	return next, nextIntegral, u, frozen
}

// Propose is clamp(round(price·e^u)) with the move limited to the larger of
// one coin and maxStep×price.
func Propose(price int64, u, maxStep float64, lo, hi int64) int64 {
	if u == 0 || math.IsNaN(u) {
		return clampPrice(price, lo, hi)
	}
	raw := math.Round(float64(price) * math.Exp(u))
	step := int64(math.Floor(float64(price) * maxStep))
	if step < 1 {
		step = 1
	}
	var delta int64
	switch {
	case raw >= float64(price+step):
		delta = step
	case raw <= float64(price-step):
		delta = -step
	default:
		delta = int64(raw) - price
	}
	return clampPrice(price+delta, lo, hi)
}

// nudge turns a rounded-away move into a one-coin move along u.
func nudge(price, next int64, u float64, lo, hi int64) int64 {
	if next != clampPrice(price, lo, hi) {
		return next
	}
	switch {
	case u > 0:
		return clampPrice(price+1, lo, hi)
	case u < 0:
		return clampPrice(price-1, lo, hi)
	}
	return next
}

func clampPrice(v, lo, hi int64) int64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func clampFloat(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

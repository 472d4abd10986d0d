package telemetry

import (
	"fmt"
	"math"

	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
)

// Sink receives samples in tick order.
type Sink interface {
	WriteSample(s Sample) error
}

// Sampler keeps every Nth tick's metrics and the running extremes needed
// for the end-of-run summary.
type Sampler struct {
	runID string
	every uint64
	sinks []Sink

	samples     int
	sinkErrors  int
	last        world.WorldMetrics
	seen        bool
	maxResidual int64
	peakStarve  float64
	peakDelay   float64
}

func NewSampler(runID string, everyTicks uint64, sinks ...Sink) *Sampler {
	if everyTicks == 0 {
		everyTicks = 1
	}
	return &Sampler{runID: runID, every: everyTicks, sinks: sinks}
}

// Observe takes one tick's metrics. It is safe to call every tick.
func (s *Sampler) Observe(m world.WorldMetrics) {
	s.last = m
	s.seen = true
	if r := abs64(m.Audit.Residual); r > s.maxResidual {
		s.maxResidual = r
	}
	if m.Tick == 0 || m.Tick%s.every != 0 {
		return
	}
	smp := FromMetrics(s.runID, m)
	s.peakStarve = math.Max(s.peakStarve, smp.StarvationRate)
	s.peakDelay = math.Max(s.peakDelay, smp.QueueDelaySeconds)
	s.samples++
	for _, sink := range s.sinks {
		if err := sink.WriteSample(smp); err != nil {
			s.sinkErrors++
		}
	}
}

func (s *Sampler) Samples() int { return s.samples }

// Summary is the run verdict.
type Summary struct {
	RunID string `json:"run_id"`
	Ticks uint64 `json:"ticks"`

	Samples    int `json:"samples"`
	SinkErrors int `json:"sink_errors"`

	MaxAbsResidual    int64   `json:"max_abs_residual"`
	AuditResiduals    int     `json:"audit_residuals"`
	StarvationRate    float64 `json:"starvation_rate"`
	PeakStarvation    float64 `json:"peak_window_starvation"`
	QueueDelaySeconds float64 `json:"queue_delay_seconds"`
	PeakQueueDelay    float64 `json:"peak_window_queue_delay_seconds"`

	TradesTotal int   `json:"trades_total"`
	UnitsSold   int   `json:"units_sold"`
	Inflow      int64 `json:"inflow"`
	Outflow     int64 `json:"outflow"`

	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// Summarize judges the run's lifetime figures against th.
func (s *Sampler) Summarize(th tuning.Thresholds) Summary {
	m := s.last
	hz := m.TickRateHz
	if hz <= 0 {
		hz = 1
	}
	sum := Summary{
		RunID:             s.runID,
		Ticks:             m.Tick,
		Samples:           s.samples,
		SinkErrors:        s.sinkErrors,
		MaxAbsResidual:    s.maxResidual,
		AuditResiduals:    m.AuditResiduals,
		StarvationRate:    m.StatsLifetime.StarvationRate(),
		PeakStarvation:    s.peakStarve,
		QueueDelaySeconds: m.StatsLifetime.MeanFillTicks() / float64(hz),
		PeakQueueDelay:    s.peakDelay,
		TradesTotal:       m.StatsLifetime.Trades,
		UnitsSold:         m.StatsLifetime.UnitsSold,
		Inflow:            m.Money.Inflow,
		Outflow:           m.Money.Outflow,
	}
	if !s.seen {
		sum.Failures = append(sum.Failures, "no ticks observed")
	}
	sum.Failures = append(sum.Failures, Check(th, sum.MaxAbsResidual, sum.StarvationRate, sum.QueueDelaySeconds)...)
	sum.Passed = len(sum.Failures) == 0
	return sum
}

// Check compares observed figures with thresholds and describes each breach.
func Check(th tuning.Thresholds, maxAbsResidual int64, starvation, queueDelay float64) []string {
	var out []string
	if maxAbsResidual > th.MaxAbsResidual {
		out = append(out, fmt.Sprintf("conservation residual %d exceeds %d", maxAbsResidual, th.MaxAbsResidual))
	}
	if th.MaxStarvationRate > 0 && starvation > th.MaxStarvationRate {
		out = append(out, fmt.Sprintf("starvation rate %.3f exceeds %.3f", starvation, th.MaxStarvationRate))
	}
	if th.MaxQueueDelaySeconds > 0 && queueDelay > th.MaxQueueDelaySeconds {
		out = append(out, fmt.Sprintf("queue delay %.1fs exceeds %.1fs", queueDelay, th.MaxQueueDelaySeconds))
	}
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package world

import (
	"time"

	"github.com/joonk7809/port-town-01/internal/sim/world/feature/persistence/digest"
)

func (w *World) stepInternal(ranges []rangeReq, leaves []string) {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	s := w.state
	s.BeginTick(nowTick)

	// Movement and departures apply at the tick boundary, before any system.
	for _, req := range ranges {
		if p := s.Participant(req.ID); p != nil {
			p.InRange = req.InRange
		}
	}
	for _, id := range leaves {
		if s.Participant(id) == nil {
			continue
		}
		s.RemoveParticipant(id)
		s.Warn("PARTICIPANT_LEFT", id, "participant removed with open orders left in the book", nil)
	}

	for _, sys := range w.systems {
		sys.Tick(s, nowTick)
	}

	diags := s.DrainDiagnostics()
	if w.diagLogger != nil {
		for _, d := range diags {
			if err := w.diagLogger.WriteDiagnostic(d); err != nil {
				w.logErrors++
			}
		}
	}

	w.lastDigest = digest.StateDigest(nowTick, s)
	if w.tickLogger != nil {
		entry := TickLogEntry{
			Tick:        nowTick,
			Digest:      w.lastDigest,
			Total:       s.Ledger.Total(),
			Prices:      copyPrices(s.Prices),
			Diagnostics: len(diags),
		}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.logErrors++
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	w.tick.Add(1)
	w.publishMetrics(nowTick, stepMS)
	if len(w.metricsObservers) > 0 {
		m := w.Metrics()
		for _, fn := range w.metricsObservers {
			fn(m)
		}
	}
}

func copyPrices(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package world

import (
	"context"
	"time"
)

// Run paces ticks at the configured rate until ctx is cancelled, Stop is
// called, or the configured run length is reached (0 runs forever).
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingRange []rangeReq
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.inRange:
			pendingRange = append(pendingRange, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case <-ticker.C:
			w.stepInternal(pendingRange, pendingLeaves)
			pendingRange = pendingRange[:0]
			pendingLeaves = pendingLeaves[:0]
			if w.cfg.RunTicks != 0 && w.tick.Load() >= w.cfg.RunTicks {
				return nil
			}
		}
	}
}

func (w *World) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stop)
	}
}

// StepOnce runs a single tick without the ticker, draining any queued
// requests first. It returns the tick that ran and its state digest.
func (w *World) StepOnce() (uint64, string) {
	var pendingRange []rangeReq
	var pendingLeaves []string
	for drained := false; !drained; {
		select {
		case req := <-w.inRange:
			pendingRange = append(pendingRange, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		default:
			drained = true
		}
	}
	now := w.tick.Load()
	w.stepInternal(pendingRange, pendingLeaves)
	return now, w.lastDigest
}

// StepN runs n ticks headless and returns the digest after the last one.
func (w *World) StepN(n uint64) string {
	for i := uint64(0); i < n; i++ {
		w.StepOnce()
	}
	return w.lastDigest
}

package stats

import "testing"

func TestMarketStats_WindowRotation(t *testing.T) {
	s := NewMarketStats(10, 30)
	s.RecordTrade(0, 3, 15)
	s.RecordTrade(15, 2, 10)
	if got := s.Summarize(15); got.Trades != 2 || got.UnitsSold != 5 || got.Coins != 25 {
		t.Fatalf("window=%+v", got)
	}
	// Tick 35 rotates the tick-0 bucket out of the 30-tick window.
	if got := s.Summarize(35); got.Trades != 1 || got.UnitsSold != 2 {
		t.Fatalf("after rotation=%+v", got)
	}
	if got := s.Total(); got.Trades != 2 || got.UnitsSold != 5 {
		t.Fatalf("lifetime=%+v", got)
	}
}

func TestMarketStats_FillLatencyAndStarvation(t *testing.T) {
	s := NewMarketStats(100, 100)
	s.RecordFill(20, 10)
	s.RecordFill(30, 0)
	s.RecordDemand(30, false)
	s.RecordDemand(40, true)
	b := s.Summarize(40)
	if got := b.MeanFillTicks(); got != 20 {
		t.Fatalf("mean fill ticks=%v want 20", got)
	}
	if got := b.StarvationRate(); got != 0.5 {
		t.Fatalf("starvation=%v want 0.5", got)
	}
}

func TestMarketStats_NilSafe(t *testing.T) {
	var s *MarketStats
	s.RecordTrade(1, 1, 1)
	if s.Summarize(1) != (Bucket{}) || s.Total() != (Bucket{}) || s.WindowTicks() != 0 {
		t.Fatalf("nil stats should be empty")
	}
}

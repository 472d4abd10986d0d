package stats

type Bucket struct {
	Trades    int    `json:"trades"`
	UnitsSold int    `json:"units_sold"`
	Coins     int64  `json:"coins"`
	Fills     int    `json:"fills"`
	FillTicks uint64 `json:"fill_ticks"`
	Cancelled int    `json:"cancelled"`
	Expired   int    `json:"expired"`

	DemandIntervals  int `json:"demand_intervals"`
	StarvedIntervals int `json:"starved_intervals"`
}

func (b *Bucket) add(o Bucket) {
	b.Trades += o.Trades
	b.UnitsSold += o.UnitsSold
	b.Coins += o.Coins
	b.Fills += o.Fills
	b.FillTicks += o.FillTicks
	b.Cancelled += o.Cancelled
	b.Expired += o.Expired
	b.DemandIntervals += o.DemandIntervals
	b.StarvedIntervals += o.StarvedIntervals
}

// MeanFillTicks is the average wait between posting a bid and a fill.
func (b Bucket) MeanFillTicks() float64 {
	if b.Fills == 0 {
		return 0
	}
	return float64(b.FillTicks) / float64(b.Fills)
}

func (b Bucket) StarvationRate() float64 {
	if b.DemandIntervals == 0 {
		return 0
	}
	return float64(b.StarvedIntervals) / float64(b.DemandIntervals)
}

// MarketStats keeps a sliding window of buckets plus a lifetime total.
type MarketStats struct {
	BucketTicks  uint64
	WindowTicksV uint64

	Buckets []Bucket
	CurIdx  int
	CurBase uint64

	Lifetime Bucket
}

func NewMarketStats(bucketTicks, windowTicks uint64) *MarketStats {
	if bucketTicks == 0 {
		bucketTicks = 100
	}
	if windowTicks < bucketTicks {
		windowTicks = bucketTicks
	}
	n := int(windowTicks / bucketTicks)
	if n < 1 {
		n = 1
	}
	return &MarketStats{
		BucketTicks:  bucketTicks,
		WindowTicksV: uint64(n) * bucketTicks,
		Buckets:      make([]Bucket, n),
	}
}

func (s *MarketStats) rotate(nowTick uint64) {
	if s == nil {
		return
	}
	for nowTick >= s.CurBase+s.BucketTicks {
		s.CurIdx = (s.CurIdx + 1) % len(s.Buckets)
		s.Buckets[s.CurIdx] = Bucket{}
		s.CurBase += s.BucketTicks
	}
}

func (s *MarketStats) record(nowTick uint64, b Bucket) {
	if s == nil {
		return
	}
	s.rotate(nowTick)
	s.Buckets[s.CurIdx].add(b)
	s.Lifetime.add(b)
}

func (s *MarketStats) RecordTrade(nowTick uint64, units int, coins int64) {
	s.record(nowTick, Bucket{Trades: 1, UnitsSold: units, Coins: coins})
}

// RecordFill records how long a bid rested before this fill.
func (s *MarketStats) RecordFill(nowTick, postTick uint64) {
	wait := uint64(0)
	if nowTick > postTick {
		wait = nowTick - postTick
	}
	s.record(nowTick, Bucket{Fills: 1, FillTicks: wait})
}

func (s *MarketStats) RecordCancel(nowTick uint64) {
	s.record(nowTick, Bucket{Cancelled: 1})
}

func (s *MarketStats) RecordExpire(nowTick uint64) {
	s.record(nowTick, Bucket{Expired: 1})
}

// RecordDemand counts one demand interval; starved means demand existed but
// nothing was bought since the previous interval.
func (s *MarketStats) RecordDemand(nowTick uint64, starved bool) {
	b := Bucket{DemandIntervals: 1}
	if starved {
		b.StarvedIntervals = 1
	}
	s.record(nowTick, b)
}

func (s *MarketStats) WindowTicks() uint64 {
	if s == nil {
		return 0
	}
	return s.WindowTicksV
}

func (s *MarketStats) Summarize(nowTick uint64) Bucket {
	if s == nil {
		return Bucket{}
	}
	s.rotate(nowTick)
	var out Bucket
	for _, b := range s.Buckets {
		out.add(b)
	}
	return out
}

func (s *MarketStats) Total() Bucket {
	if s == nil {
		return Bucket{}
	}
	return s.Lifetime
}

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/joonk7809/port-town-01/internal/persistence/csvout"
	"github.com/joonk7809/port-town-01/internal/persistence/snapshot"
	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/telemetry"
)

type csvReport struct {
	Rows      int    `json:"rows"`
	FirstTick uint64 `json:"first_tick"`
	LastTick  uint64 `json:"last_tick"`

	MaxAbsResidual     int64   `json:"max_abs_residual"`
	MeanStarvation     float64 `json:"mean_starvation_rate"`
	PeakStarvation     float64 `json:"peak_starvation_rate"`
	MeanQueueDelay     float64 `json:"mean_queue_delay_seconds"`
	PeakQueueDelay     float64 `json:"peak_queue_delay_seconds"`
	FinalPrice         int64   `json:"final_price"`
	FinalTotal         int64   `json:"final_total"`
	NetFlow            int64   `json:"net_flow"`
	MoneyDriftUnbacked int64   `json:"money_drift_unbacked"`

	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// checkCSV judges a sample file. Window starvation and delay are averaged
// over rows; the residual is the worst row.
func checkCSV(r io.Reader, th tuning.Thresholds) (csvReport, error) {
	rows, err := csvout.ReadSamples(r)
	if err != nil {
		return csvReport{}, err
	}
	if len(rows) == 0 {
		return csvReport{}, fmt.Errorf("no samples")
	}

	rep := csvReport{Rows: len(rows), FirstTick: rows[0].Tick, LastTick: rows[len(rows)-1].Tick}
	var sumStarve, sumDelay float64
	for _, s := range rows {
		res := s.Residual
		if res < 0 {
			res = -res
		}
		if res > rep.MaxAbsResidual {
			rep.MaxAbsResidual = res
		}
		sumStarve += s.StarvationRate
		sumDelay += s.QueueDelaySeconds
		if s.StarvationRate > rep.PeakStarvation {
			rep.PeakStarvation = s.StarvationRate
		}
		if s.QueueDelaySeconds > rep.PeakQueueDelay {
			rep.PeakQueueDelay = s.QueueDelaySeconds
		}
	}
	rep.MeanStarvation = sumStarve / float64(len(rows))
	rep.MeanQueueDelay = sumDelay / float64(len(rows))

	first, last := rows[0], rows[len(rows)-1]
	rep.FinalPrice = last.Price
	rep.FinalTotal = last.Total
	rep.NetFlow = (last.Inflow - last.Outflow) - (first.Inflow - first.Outflow)
	// Total money may only move by minted minus burned coins.
	rep.MoneyDriftUnbacked = (last.Total - first.Total) - rep.NetFlow

	rep.Failures = telemetry.Check(th, rep.MaxAbsResidual, rep.MeanStarvation, rep.MeanQueueDelay)
	if rep.MoneyDriftUnbacked != 0 {
		rep.Failures = append(rep.Failures, fmt.Sprintf("money drift %d not backed by inflow/outflow", rep.MoneyDriftUnbacked))
	}
	rep.Passed = len(rep.Failures) == 0
	return rep, nil
}

func describeSnapshot(s snapshot.SnapshotV1, item string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "snapshot v%d run=%s tick=%d seed=%d scenario=%s participants=%d facilities=%d orders=%d\n",
		s.Header.Version, s.Header.RunID, s.Header.Tick, s.Seed, s.Scenario,
		len(s.Participants), len(s.Facilities), len(s.Orders))
	fmt.Fprintf(&b, "money total=%d inflow=%d outflow=%d overdrafts=%d\n", s.MoneySupply(), s.Inflow, s.Outflow, s.Overdrafts)

	items := make([]string, 0, len(s.Prices))
	for it := range s.Prices {
		items = append(items, it)
	}
	if item != "" {
		if _, ok := s.Prices[item]; !ok {
			items = append(items, item)
		}
	}
	sort.Strings(items)
	for _, it := range items {
		fmt.Fprintf(&b, "item=%s price=%d units=%d consumed=%d traded=%d\n", it, s.Prices[it], s.ItemCount(it), s.Consumed[it], s.Traded[it])
	}
	fmt.Fprintf(&b, "digest=%s", s.Digest)
	return b.String()
}

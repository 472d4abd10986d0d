// Package csvout appends telemetry samples to a fixed-schema CSV file.
package csvout

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joonk7809/port-town-01/internal/telemetry"
)

// Header is the column order. Changing it breaks existing files.
var Header = []string{
	"run_id", "tick", "sim_seconds",
	"price", "cover", "rate_ema", "integral",
	"wallets", "escrow", "budget", "total", "inflow", "outflow", "residual",
	"on_order", "vendor_hand", "ask_escrow", "buyer_hand", "consumed",
	"shock", "desired_rate", "allocation",
	"window_trades", "starvation_rate", "queue_delay_seconds", "diagnostics",
}

type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Open appends to path, writing the header only when the file is empty.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &Writer{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := w.w.Write(Header); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.w.Flush()
	}
	return w, nil
}

func (w *Writer) WriteSample(s telemetry.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Write(record(s)); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	err := w.w.Error()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func record(s telemetry.Sample) []string {
	i := func(v int64) string { return strconv.FormatInt(v, 10) }
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		s.RunID, u(s.Tick), f(s.SimSeconds),
		i(s.Price), f(s.Cover), f(s.RateEMA), f(s.Integral),
		i(s.Wallets), i(s.Escrow), i(s.Budget), i(s.Total), i(s.Inflow), i(s.Outflow), i(s.Residual),
		i(int64(s.OnOrder)), i(int64(s.VendorHand)), i(int64(s.AskEscrow)), i(int64(s.BuyerHand)), i(int64(s.Consumed)),
		f(s.Shock), f(s.DesiredRate), i(s.Allocation),
		i(int64(s.WindowTrades)), f(s.StarvationRate), f(s.QueueDelaySeconds), u(s.Diagnostics),
	}
}

// ReadSamples parses a file written by Writer. Rows from several runs may be
// mixed; callers filter on RunID.
func ReadSamples(r io.Reader) ([]telemetry.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range Header {
		if head[i] != name {
			return nil, fmt.Errorf("column %d is %q, want %q", i, head[i], name)
		}
	}
	var out []telemetry.Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		s, err := parse(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
}

func parse(rec []string) (telemetry.Sample, error) {
	p := fieldParser{rec: rec}
	s := telemetry.Sample{
		RunID:      rec[0],
		Tick:       p.u(1),
		SimSeconds: p.f(2),

		Price:    p.i(3),
		Cover:    p.f(4),
		RateEMA:  p.f(5),
		Integral: p.f(6),

		Wallets:  p.i(7),
		Escrow:   p.i(8),
		Budget:   p.i(9),
		Total:    p.i(10),
		Inflow:   p.i(11),
		Outflow:  p.i(12),
		Residual: p.i(13),

		OnOrder:    int(p.i(14)),
		VendorHand: int(p.i(15)),
		AskEscrow:  int(p.i(16)),
		BuyerHand:  int(p.i(17)),
		Consumed:   int(p.i(18)),

		Shock:       p.f(19),
		DesiredRate: p.f(20),
		Allocation:  p.i(21),

		WindowTrades:      int(p.i(22)),
		StarvationRate:    p.f(23),
		QueueDelaySeconds: p.f(24),
		Diagnostics:       p.u(25),
	}
	return s, p.err
}

// fieldParser keeps the first conversion error.
type fieldParser struct {
	rec []string
	err error
}

func (p *fieldParser) i(col int) int64 {
	v, err := strconv.ParseInt(p.rec[col], 10, 64)
	p.keep(col, err)
	return v
}

func (p *fieldParser) u(col int) uint64 {
	v, err := strconv.ParseUint(p.rec[col], 10, 64)
	p.keep(col, err)
	return v
}

func (p *fieldParser) f(col int) float64 {
	v, err := strconv.ParseFloat(p.rec[col], 64)
	p.keep(col, err)
	return v
}

func (p *fieldParser) keep(col int, err error) {
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", Header[col], err)
	}
}

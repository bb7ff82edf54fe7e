// Package metrics implements the running-mean aggregator for named loss and
// error terms, the per-epoch history, its CSV persistence, and telemetry
// emission.
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// accumulator is a running mean over recorded values.
type accumulator struct {
	sum   float64
	count int
}

// Metrics tracks one running-mean accumulator per named quantity and an
// append-only per-epoch history of accumulator means.
//
// The aggregator itself is single-writer: the distributed trainer reduces
// across replicas before recording, so all Record calls come from the loop
// goroutine.
type Metrics struct {
	accumulators map[string]*accumulator
	order        []string // first-seen order, keeps CSV columns stable
	history      map[string][]float64
	telemetry    Telemetry

	// RelativeGradientNorm is the current epoch's gradient-norm ratio
	// against the first-epoch baseline.
	RelativeGradientNorm float64
}

// New creates an empty aggregator emitting to the given telemetry sink.
// A nil sink disables emission.
func New(telemetry Telemetry) *Metrics {
	if telemetry == nil {
		telemetry = NopTelemetry{}
	}
	return &Metrics{
		accumulators: make(map[string]*accumulator),
		history:      make(map[string][]float64),
		telemetry:    telemetry,
	}
}

// Record folds a per-example tensor [batch, 1] (or any tensor; all elements
// count) into the named running mean in O(1) amortized.
func (m *Metrics) Record(name string, values *tensor.Tensor) {
	acc := m.accumulator(name)
	for _, v := range values.Data() {
		acc.sum += v
	}
	acc.count += values.NumElements()
}

// RecordScalar folds one scalar into the named running mean.
func (m *Metrics) RecordScalar(name string, value float64) {
	acc := m.accumulator(name)
	acc.sum += value
	acc.count++
}

// RecordSum folds a pre-reduced sum with its total example count. The
// distributed trainer uses this after cross-replica reduction so the mean
// is over all replicas' examples.
func (m *Metrics) RecordSum(name string, sum float64, count int) {
	acc := m.accumulator(name)
	acc.sum += sum
	acc.count += count
}

// Mean returns the current running mean of the named quantity, zero when
// nothing was recorded.
func (m *Metrics) Mean(name string) float64 {
	acc, ok := m.accumulators[name]
	if !ok || acc.count == 0 {
		return 0
	}
	return acc.sum / float64(acc.count)
}

// Count returns how many values the named accumulator has folded since the
// last reset.
func (m *Metrics) Count(name string) int {
	acc, ok := m.accumulators[name]
	if !ok {
		return 0
	}
	return acc.count
}

// History returns the per-epoch means snapshotted for the named quantity.
func (m *Metrics) History(name string) []float64 {
	return m.history[name]
}

// SnapshotToHistory appends every accumulator's current mean to its
// history. Called once per epoch, before ResetAll.
func (m *Metrics) SnapshotToHistory() {
	for _, name := range m.order {
		m.history[name] = append(m.history[name], m.Mean(name))
	}
}

// ResetAll clears all accumulators. Called once per epoch after logging.
func (m *Metrics) ResetAll() {
	for _, acc := range m.accumulators {
		acc.sum = 0
		acc.count = 0
	}
}

// FlushToStorage overwrites path with the full per-metric history as CSV:
// one column per metric in first-seen order, one row per epoch. Safe to
// call mid-run; the write is idempotent.
func (m *Metrics) FlushToStorage(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(m.order); err != nil {
		return fmt.Errorf("metrics: write header: %w", err)
	}

	epochs := 0
	for _, name := range m.order {
		if n := len(m.history[name]); n > epochs {
			epochs = n
		}
	}
	row := make([]string, len(m.order))
	for e := 0; e < epochs; e++ {
		for i, name := range m.order {
			h := m.history[name]
			if e < len(h) {
				row[i] = strconv.FormatFloat(h[e], 'g', -1, 64)
			} else {
				row[i] = ""
			}
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("metrics: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("metrics: flush: %w", err)
	}
	return nil
}

// EmitTelemetry pushes the current accumulator means and the relative
// gradient norm to the telemetry sink. Sink failures never abort the run;
// the interface is fire-and-forget.
func (m *Metrics) EmitTelemetry(epoch int) {
	for _, name := range m.order {
		m.telemetry.Scalar(name, m.Mean(name), epoch)
	}
	m.telemetry.Scalar("relative_gradient_norm", m.RelativeGradientNorm, epoch)
}

// EmitHistogram forwards a tensor histogram (weights, gradient norms) to
// the sink.
func (m *Metrics) EmitHistogram(name string, values []float64, epoch int) {
	m.telemetry.Histogram(name, values, epoch)
}

func (m *Metrics) accumulator(name string) *accumulator {
	acc, ok := m.accumulators[name]
	if !ok {
		acc = &accumulator{}
		m.accumulators[name] = acc
		m.order = append(m.order, name)
	}
	return acc
}

package metrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HwanGoh/uq-vae/internal/backend/cpu"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

func TestMetrics_RunningMean(t *testing.T) {
	m := New(nil)

	batch, _ := tensor.FromSlice([]float64{1, 2, 3}, tensor.Shape{3, 1}, cpu.New())
	m.Record("loss_train", batch)
	m.RecordScalar("loss_train", 6)

	assert.InDelta(t, 3.0, m.Mean("loss_train"), 1e-12)
	assert.Equal(t, 4, m.Count("loss_train"))
}

func TestMetrics_RecordSumMatchesWholeBatch(t *testing.T) {
	// Replica-summed recording must equal whole-batch recording.
	whole := New(nil)
	batch, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{4, 1}, cpu.New())
	whole.Record("loss", batch)

	sharded := New(nil)
	sharded.RecordSum("loss", 1+2, 2)
	sharded.RecordSum("loss", 3+4, 2)

	assert.InDelta(t, whole.Mean("loss"), sharded.Mean("loss"), 1e-12)
	assert.Equal(t, whole.Count("loss"), sharded.Count("loss"))
}

func TestMetrics_ResetAndSnapshot(t *testing.T) {
	m := New(nil)

	m.RecordScalar("a", 2)
	m.RecordScalar("b", 4)
	m.SnapshotToHistory()
	m.ResetAll()

	assert.Equal(t, 0, m.Count("a"))
	assert.Equal(t, 0.0, m.Mean("a"))
	assert.Equal(t, []float64{2}, m.History("a"))
	assert.Equal(t, []float64{4}, m.History("b"))

	m.RecordScalar("a", 10)
	m.SnapshotToHistory()
	assert.Equal(t, []float64{2, 10}, m.History("a"))
	// Nothing recorded for b this epoch: snapshot records the empty mean.
	assert.Equal(t, []float64{4, 0}, m.History("b"))
}

func TestMetrics_FlushToStorage(t *testing.T) {
	m := New(nil)
	path := filepath.Join(t.TempDir(), "metrics.csv")

	for epoch := 0; epoch < 3; epoch++ {
		m.RecordScalar("loss", float64(10-epoch))
		m.RecordScalar("error", float64(epoch))
		m.SnapshotToHistory()
		m.ResetAll()

		// Mid-run flush must be safe and idempotent.
		require.NoError(t, m.FlushToStorage(path))
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"loss", "error"}, rows[0])
	assert.Equal(t, []string{"10", "0"}, rows[1])
	assert.Equal(t, []string{"8", "2"}, rows[3])
}

func TestMetrics_EmitTelemetryWithNopSink(t *testing.T) {
	m := New(NopTelemetry{})
	m.RecordScalar("loss", 1)
	m.RelativeGradientNorm = 0.5

	// Must not panic or fail with the no-op sink.
	m.EmitTelemetry(0)
	m.EmitHistogram("weights", []float64{1, 2, 3}, 0)
}

type recordingSink struct {
	scalars map[string]float64
	steps   map[string]int
}

func (s *recordingSink) Scalar(name string, value float64, step int) {
	s.scalars[name] = value
	s.steps[name] = step
}
func (s *recordingSink) Histogram(string, []float64, int) {}

func TestMetrics_EmitTelemetryForwardsMeans(t *testing.T) {
	sink := &recordingSink{scalars: map[string]float64{}, steps: map[string]int{}}
	m := New(sink)

	m.RecordScalar("loss_train", 2)
	m.RecordScalar("loss_train", 4)
	m.RelativeGradientNorm = 0.25
	m.EmitTelemetry(7)

	assert.InDelta(t, 3.0, sink.scalars["loss_train"], 1e-12)
	assert.InDelta(t, 0.25, sink.scalars["relative_gradient_norm"], 1e-12)
	assert.Equal(t, 7, sink.steps["loss_train"])
}

func TestPrometheusTelemetry_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusTelemetry(reg)
	require.NoError(t, err)

	sink.Scalar("loss_train", 1.5, 3)
	sink.Histogram("gradients", []float64{-0.1, 0.2}, 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["uqvae_training_metric"])
	assert.True(t, names["uqvae_training_epoch"])
	assert.True(t, names["uqvae_training_values"])

	// Double registration on the same registry must fail, not panic.
	_, err = NewPrometheusTelemetry(reg)
	assert.Error(t, err)
}

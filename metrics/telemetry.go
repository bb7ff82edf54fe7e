package metrics

// Telemetry is the external observability sink. Implementations must never
// propagate failures back into the training loop.
type Telemetry interface {
	// Scalar records a named scalar at a step (epoch).
	Scalar(name string, value float64, step int)

	// Histogram records a named value distribution at a step.
	Histogram(name string, values []float64, step int)
}

// NopTelemetry discards everything. The default sink when telemetry is
// disabled.
type NopTelemetry struct{}

func (NopTelemetry) Scalar(string, float64, int)      {}
func (NopTelemetry) Histogram(string, []float64, int) {}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTelemetry exposes training metrics through a Prometheus
// registry: one gauge per scalar metric name and one histogram family for
// value distributions, both labelled by metric name.
type PrometheusTelemetry struct {
	scalars    *prometheus.GaugeVec
	epoch      prometheus.Gauge
	histograms *prometheus.HistogramVec
}

// NewPrometheusTelemetry registers the training collectors on the given
// registerer. Returns an error if a collector with the same name is already
// registered.
func NewPrometheusTelemetry(reg prometheus.Registerer) (*PrometheusTelemetry, error) {
	t := &PrometheusTelemetry{
		scalars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "uqvae",
			Name:      "training_metric",
			Help:      "Current running-mean value of a named training metric.",
		}, []string{"metric"}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uqvae",
			Name:      "training_epoch",
			Help:      "Epoch of the most recent telemetry emission.",
		}),
		histograms: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uqvae",
			Name:      "training_values",
			Help:      "Distributions of weights and gradient norms.",
			Buckets:   prometheus.ExponentialBuckets(1e-8, 10, 12),
		}, []string{"metric"}),
	}

	for _, c := range []prometheus.Collector{t.scalars, t.epoch, t.histograms} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Scalar sets the gauge for the named metric.
func (t *PrometheusTelemetry) Scalar(name string, value float64, step int) {
	t.scalars.WithLabelValues(name).Set(value)
	t.epoch.Set(float64(step))
}

// Histogram observes the absolute values of the given distribution.
func (t *PrometheusTelemetry) Histogram(name string, values []float64, _ int) {
	h := t.histograms.WithLabelValues(name)
	for _, v := range values {
		if v < 0 {
			v = -v
		}
		h.Observe(v)
	}
}

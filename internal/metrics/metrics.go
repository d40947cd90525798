// Package metrics exposes Prometheus collectors for server activation and
// rule imports. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ansible_analyzer"

// Metrics holds the collectors.
type Metrics struct {
	activations    *prometheus.CounterVec
	lifecycle      *prometheus.GaugeVec
	imports        *prometheus.CounterVec
	importedRules  prometheus.Counter
	importDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Activation attempts by terminal state and failure kind.",
		}, []string{"state", "kind"}),
		lifecycle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "1 for the current language server lifecycle state.",
		}, []string{"state"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Rule imports by result.",
		}, []string{"result"}),
		importedRules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_rules_total",
			Help:      "Rules written to settings by imports.",
		}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Duration of the apply phase of rule imports.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(m.activations, m.lifecycle, m.imports, m.importedRules, m.importDuration)
	return m
}

// ObserveActivation counts an activation that ended in state. kind is the
// failure kind, empty on success.
func (m *Metrics) ObserveActivation(state, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.activations.WithLabelValues(state, kind).Inc()
}

// SetState records the current lifecycle state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	m.lifecycle.Reset()
	m.lifecycle.WithLabelValues(state).Set(1)
}

// ObserveImport counts a finished import.
func (m *Metrics) ObserveImport(result string, rules int, d time.Duration) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(result).Inc()
	if rules > 0 {
		m.importedRules.Add(float64(rules))
	}
	if d > 0 {
		m.importDuration.Observe(d.Seconds())
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveActivation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveActivation("Running", "")
	m.ObserveActivation("Failed", "VersionTooLow")
	m.ObserveActivation("Failed", "VersionTooLow")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations.WithLabelValues("Running", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activations.WithLabelValues("Failed", "VersionTooLow")))
}

func TestSetState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetState("Starting")
	m.SetState("Running")

	assert.Equal(t, 1, testutil.CollectAndCount(m.lifecycle))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycle.WithLabelValues("Running")))
}

func TestObserveImport(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveImport("success", 12, 300*time.Millisecond)
	m.ObserveImport("ImportEmptyRules", 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.imports.WithLabelValues("success")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.importedRules))
	assert.Equal(t, 1, testutil.CollectAndCount(m.importDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveActivation("Running", "")
	m.SetState("Running")
	m.ObserveImport("success", 1, time.Second)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveActivation("Running", "")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ansible_analyzer_activations_total{kind="none",state="Running"} 1`)
}

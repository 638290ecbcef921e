package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"l"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"l"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"l"})

	require.NoError(t, registry.RegisterCounter("file-in", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("file-in", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("file-in", "test_histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("file-in", "test_counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("file-in", "test_gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("file-in", "test_histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(1)
	histogram.Observe(0.1)
	counterVec.WithLabelValues("x").Inc()
	gaugeVec.WithLabelValues("x").Set(1)
	histogramVec.WithLabelValues("x").Observe(0.1)

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"test_counter", "test_gauge", "test_histogram",
		"test_counter_vec", "test_gauge_vec", "test_histogram_vec",
	} {
		assert.True(t, names[name], name)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "d"})
	require.NoError(t, registry.RegisterCounter("svc", "dup_total", first))

	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "d"})
	err := registry.RegisterCounter("svc", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	// same descriptor under another key conflicts in prometheus
	err = registry.RegisterCounter("other", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "t"})
	require.NoError(t, registry.RegisterGauge("svc", "temp_gauge", gauge))
	gauge.Set(3)
	assert.True(t, gatheredNames(t, registry)["temp_gauge"])

	assert.True(t, registry.Unregister("svc", "temp_gauge"))
	assert.False(t, gatheredNames(t, registry)["temp_gauge"])
	assert.False(t, registry.Unregister("svc", "temp_gauge"))

	// can register again after removal
	require.NoError(t, registry.RegisterGauge("svc", "temp_gauge", gauge))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d_total", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			errs <- registry.RegisterCounter(fmt.Sprintf("svc-%d", i), name, c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var _ MetricsRegistrar = NewMetricsRegistry()
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordReceive("file-in", 3, 10*time.Millisecond, "")
	m.RecordReceive("file-in", 0, time.Millisecond, "")
	m.RecordReceive("file-in", 0, time.Millisecond, "500")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SourceEvents.WithLabelValues("file-in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceBatches.WithLabelValues("file-in", "data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceBatches.WithLabelValues("file-in", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceErrors.WithLabelValues("file-in", "500")))

	m.RecordSinkWrite("out", "bytes_batch", 4, 128, time.Millisecond)
	m.RecordSinkWrite("out", "records", 2, 0, time.Millisecond)
	m.RecordSinkError("out", "records", "510")
	m.RecordSinkReconnect("out")
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SinkItems.WithLabelValues("out", "bytes_batch")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.SinkBytes.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("out", "records", "510")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkReconnects.WithLabelValues("out")))

	m.RecordControlEvent("stop")
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlEvents.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSCircuitBreaker))

	names := gatheredNames(t, registry)
	assert.True(t, names["wpipe_source_events_total"])
	assert.True(t, names["wpipe_sink_items_total"])
}

func TestServer_ServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordControlEvent("isolate")

	server := NewServer("127.0.0.1:0", "", registry)
	require.NoError(t, server.Start())
	defer server.Stop(context.Background())

	assert.Error(t, server.Start(), "second start fails")
	assert.True(t, strings.HasSuffix(server.Address(), "/metrics"))

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `wpipe_control_events_total{event="isolate"} 1`)

	require.NoError(t, server.Stop(context.Background()))
	require.NoError(t, server.Stop(context.Background()))
}

func TestServer_RequiresRegistry(t *testing.T) {
	server := NewServer("127.0.0.1:0", "/m", nil)
	err := server.Start()
	assert.True(t, errors.IsFatal(err))
}

func TestServer_ExtraRoutes(t *testing.T) {
	server := NewServer("127.0.0.1:0", "/metrics", NewMetricsRegistry())
	server.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	require.NoError(t, server.Start())
	defer server.Stop(context.Background())

	base := strings.TrimSuffix(server.Address(), "/metrics")
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

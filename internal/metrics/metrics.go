package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coursekit/admission/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	admissionChecksTotal *prometheus.CounterVec
	admissionDeniedTotal *prometheus.CounterVec
	storeErrorsTotal     *prometheus.CounterVec
	storeOpDuration      prometheus.Histogram
	failOpenAdmitsTotal  prometheus.Counter

	relayDeliveriesTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		admissionChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_checks_total",
			Help: "Total admission decisions by operation prefix and outcome",
		}, []string{"operation", "outcome"}),
		admissionDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_denied_total",
			Help: "Total calls rejected over quota by operation prefix",
		}, []string{"operation"}),
		storeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_store_errors_total",
			Help: "Total counter store failures by operation prefix",
		}, []string{"operation"}),
		storeOpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "admission_store_op_duration_seconds",
			Help:    "Counter store increment latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		failOpenAdmitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_fail_open_admits_total",
			Help: "Total calls admitted unmetered because the counter store was unavailable",
		}),
		relayDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total outbound webhook deliveries by result",
		}, []string{"result"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.errorsTotal,
		m.admissionChecksTotal,
		m.admissionDeniedTotal,
		m.storeErrorsTotal,
		m.storeOpDuration,
		m.failOpenAdmitsTotal,
		m.relayDeliveriesTotal,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

// IncAdmissionCheck records one decision. Outcome is one of
// allowed|denied|unmetered.
func (m *ServerMetrics) IncAdmissionCheck(operation, outcome string) {
	m.admissionChecksTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *ServerMetrics) IncAdmissionDenied(operation string) {
	m.admissionDeniedTotal.WithLabelValues(operation).Inc()
}

func (m *ServerMetrics) IncStoreError(operation string) {
	m.storeErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *ServerMetrics) ObserveStoreOpDuration(seconds float64) {
	m.storeOpDuration.Observe(seconds)
}

func (m *ServerMetrics) IncFailOpenAdmit() {
	m.failOpenAdmitsTotal.Inc()
}

// IncRelayDelivery records one outbound webhook attempt. Result is one
// of delivered|failed.
func (m *ServerMetrics) IncRelayDelivery(result string) {
	m.relayDeliveriesTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

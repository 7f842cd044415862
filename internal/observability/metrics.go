package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver so
// components can be built without instrumentation in tests.
type Metrics struct {
	reg *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	staleSamples    prometheus.Counter
	runsFinalized   *prometheus.CounterVec
	meterErrors     prometheus.Counter
	alertsTotal     *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec
	selfTestTotal   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	droppedShutdown prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_events_total",
			Help: "Events dequeued by the zone state machine, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowmon_queue_depth",
			Help: "Events waiting in the queue.",
		}),
		staleSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowmon_stale_flow_samples_total",
			Help: "Flow samples discarded because their run was no longer current.",
		}),
		runsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_runs_finalized_total",
			Help: "Zone runs finalized, by terminating event.",
		}, []string{"ended_by"}),
		meterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowmon_meter_read_errors_total",
			Help: "Failed water meter reads.",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_alerts_total",
			Help: "Alerts raised, by kind.",
		}, []string{"kind"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_sink_errors_total",
			Help: "Failed writes to an output sink.",
		}, []string{"sink"}),
		selfTestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_selftest_total",
			Help: "Daily webhook self-test results.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		droppedShutdown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowmon_events_dropped_on_shutdown_total",
			Help: "Queued events left unprocessed when the drain grace period expired.",
		}),
	}
	m.reg.MustRegister(
		m.eventsTotal,
		m.queueDepth,
		m.staleSamples,
		m.runsFinalized,
		m.meterErrors,
		m.alertsTotal,
		m.sinkErrors,
		m.selfTestTotal,
		m.httpRequests,
		m.httpDuration,
		m.droppedShutdown,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) StaleSample() {
	if m == nil {
		return
	}
	m.staleSamples.Inc()
}

func (m *Metrics) RunFinalized(endedBy string) {
	if m == nil {
		return
	}
	m.runsFinalized.WithLabelValues(endedBy).Inc()
}

func (m *Metrics) MeterError() {
	if m == nil {
		return
	}
	m.meterErrors.Inc()
}

func (m *Metrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) SelfTest(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "missed"
	}
	m.selfTestTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) DroppedOnShutdown(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedShutdown.Add(float64(n))
}

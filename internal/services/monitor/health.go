package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/flow-monitor/pkg/rabbitmq"
)

// Deps are the optional outputs whose state /healthz and /readyz report.
// A nil field means the output is not configured and is not required.
type Deps struct {
	Bus      rabbitmq.IPublisher
	Meter    BreakerStater
	Writer   *Writer
	Watchdog *Watchdog
	// MinErrorAge is how long the influx writer must be error free to be ready.
	MinErrorAge time.Duration
}

// BreakerStater reports a circuit breaker state: "closed", "half-open" or "open".
type BreakerStater interface {
	State() string
}

func (d Deps) meterState() string {
	if d.Meter == nil {
		return ""
	}
	return d.Meter.State()
}

func (d Deps) mqttOK() bool   { return d.Bus == nil || d.Bus.IsConnected() }
func (d Deps) influxOK() bool { return d.Writer == nil || d.Writer.LastErrorAge() > d.MinErrorAge }

type healthHandler struct{ deps Deps }

func NewHealthHandler(d Deps) http.Handler { return &healthHandler{deps: d} }

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string       `json:"status"`
		MQTTEnabled     bool         `json:"mqtt_enabled"`
		MQTTConnected   bool         `json:"mqtt_connected"`
		InfluxEnabled   bool         `json:"influx_enabled"`
		MeterBreaker    string       `json:"meter_breaker,omitempty"`
		LastWriteErrorS float64      `json:"last_write_error_age_sec,omitempty"`
		LastCheck       *CheckResult `json:"last_check,omitempty"`
	}
	d := h.deps
	st := status{
		MQTTEnabled:   d.Bus != nil,
		MQTTConnected: d.Bus != nil && d.Bus.IsConnected(),
		InfluxEnabled: d.Writer != nil,
		MeterBreaker:  d.meterState(),
		LastCheck:     d.Watchdog.Last(),
	}
	if d.Writer != nil {
		st.LastWriteErrorS = d.Writer.LastErrorAge().Seconds()
	}
	switch {
	case d.mqttOK() && d.influxOK():
		st.Status = "ok"
	case d.mqttOK() || d.influxOK():
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	if st.Status == "ok" && st.LastCheck != nil && !st.LastCheck.SelfTestOK {
		st.Status = "degraded"
	}
	if st.Status == "ok" && st.MeterBreaker == "open" {
		st.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct{ deps Deps }

// NewReadyHandler answers 200 only when every configured output is healthy.
func NewReadyHandler(d Deps) http.Handler { return &readyHandler{deps: d} }

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.deps.mqttOK() && h.deps.influxOK()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}

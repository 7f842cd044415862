package monitor

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
)

type RouterConfig struct {
	Receiver *Receiver
	Queue    *Queue
	Runs     RunSource // nil when InfluxDB is not configured
	Deps     Deps
	Metrics  *observability.Metrics
	// AccessLog receives one combined-format line per request; nil disables it.
	AccessLog io.Writer
}

// NewRouter wires the webhook receiver and the status endpoints. The webhook
// route has no method matcher so that the receiver answers 400 itself.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	m := cfg.Metrics

	r.Handle(cfg.Receiver.Path(), m.WrapHandler("webhook", cfg.Receiver))
	r.Handle("/healthz", m.WrapHandler("healthz", NewHealthHandler(cfg.Deps))).Methods(http.MethodGet)
	r.Handle("/readyz", m.WrapHandler("readyz", NewReadyHandler(cfg.Deps))).Methods(http.MethodGet)
	r.Handle("/zones", m.WrapHandler("zones", NewZonesHandler(cfg.Queue, 2*time.Second))).Methods(http.MethodGet)
	if cfg.Runs != nil {
		r.Handle("/runs/recent", m.WrapHandler("runs_recent", NewRecentRunsHandler(cfg.Runs))).Methods(http.MethodGet)
	}
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	if cfg.AccessLog == nil {
		return r
	}
	return handlers.CombinedLoggingHandler(cfg.AccessLog, r)
}

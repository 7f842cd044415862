package monitor

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
)

const (
	DefaultWebhookPath = "/rachio.json"
	MaxWebhookBytes    = 64 << 10
)

// Receiver is the HTTP callback Rachio (and the watchdog's self-test) posts
// to. Each accepted call enqueues exactly one WebhookEvent before the 200 is
// written; rejected calls enqueue nothing.
type Receiver struct {
	path    string
	queue   *Queue
	logger  *log.Logger
	metrics *observability.Metrics
}

func NewReceiver(path string, q *Queue, logger *log.Logger, m *observability.Metrics) *Receiver {
	if path == "" {
		path = DefaultWebhookPath
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Receiver{path: path, queue: q, logger: logger, metrics: m}
}

func (rc *Receiver) Path() string { return rc.path }

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ev, reason := rc.decode(r)
	if reason != "" {
		rc.logger.Printf("receiver: rejected %s %s: %s", r.Method, r.URL.Path, reason)
		rc.metrics.Event("webhook", "rejected")
		http.Error(w, reason, http.StatusBadRequest)
		return
	}
	if err := rc.queue.Push(r.Context(), ev); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		rc.logger.Printf("receiver: enqueue %s: %v", ev.EventID, err)
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// decode returns the event or a non-empty rejection reason.
func (rc *Receiver) decode(r *http.Request) (model.WebhookEvent, string) {
	if r.Method != http.MethodPost {
		return model.WebhookEvent{}, "method not allowed"
	}
	if r.URL.Path != rc.path {
		return model.WebhookEvent{}, "unknown path"
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return model.WebhookEvent{}, "content type must be application/json"
	}
	if r.ContentLength <= 0 {
		return model.WebhookEvent{}, "missing content length"
	}
	if r.ContentLength > MaxWebhookBytes {
		return model.WebhookEvent{}, "body too large"
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, r.ContentLength))
	if err != nil {
		return model.WebhookEvent{}, "read body"
	}
	var p messages.WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.WebhookEvent{}, "invalid json"
	}
	if strings.TrimSpace(p.EventType) == "" {
		return model.WebhookEvent{}, "missing eventType"
	}
	return model.WebhookEvent{
		EventID:         p.EventID,
		Type:            model.ParseEventType(p.EventType),
		RawType:         p.EventType,
		ZoneNumber:      p.Payload.ZoneNumber,
		DurationSeconds: p.Payload.DurationSeconds,
	}, ""
}

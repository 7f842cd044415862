package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

// Writer sends run and daily records to InfluxDB through the non-blocking
// write API and remembers when a write last failed, for /healthz and /readyz.
type Writer struct {
	runs    api.WriteAPI
	daily   api.WriteAPI
	logger  *log.Logger
	mu      sync.RWMutex
	lastErr time.Time
}

// NewWriter starts one error listener per write API. daily may be the same
// API as runs when both records share a bucket.
func NewWriter(runs, daily api.WriteAPI, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.Default()
	}
	w := &Writer{
		runs:    runs,
		daily:   daily,
		logger:  logger,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	w.listen(runs)
	if daily != runs {
		w.listen(daily)
	}
	return w
}

// listen takes the error channel before returning: the write API only
// reports failures once Errors() has been called.
func (w *Writer) listen(a api.WriteAPI) {
	errs := a.Errors()
	go func() {
		for err := range errs {
			if err != nil {
				w.mu.Lock()
				w.lastErr = time.Now()
				w.mu.Unlock()
				w.logger.Printf("influx write error: %v", err)
			}
		}
	}()
}

func (w *Writer) WriteRun(_ context.Context, rec model.RunRecord) error {
	w.runs.WritePoint(RunToPoint(rec))
	return nil
}

func (w *Writer) WriteDaily(_ context.Context, rec model.DailyRecord) error {
	w.daily.WritePoint(DailyToPoint(rec))
	return nil
}

// Flush pushes buffered points; called on shutdown.
func (w *Writer) Flush() {
	w.runs.Flush()
	if w.daily != w.runs {
		w.daily.Flush()
	}
}

// LastErrorAge reports how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

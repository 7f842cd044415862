package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

// DefaultSettleDelay lets line pressure stabilize before the flow reading.
const DefaultSettleDelay = 20 * time.Second

// FlowArmer schedules a delayed flow measurement for one run.
type FlowArmer interface {
	Arm(zone int, correlationID string)
}

// Sampler arms one-shot timers that enqueue a FlowSampleEvent. Timers are
// never cancelled; the state machine discards samples whose correlation id
// no longer matches the zone.
type Sampler struct {
	queue  *Queue
	delay  time.Duration
	after  func(time.Duration, func())
	logger *log.Logger
}

func NewSampler(q *Queue, delay time.Duration, logger *log.Logger) *Sampler {
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sampler{
		queue:  q,
		delay:  delay,
		after:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		logger: logger,
	}
}

// Arm captures correlationID now; the timer callback never re-reads zone state.
func (s *Sampler) Arm(zone int, correlationID string) {
	ev := model.FlowSampleEvent{ZoneNumber: zone, CorrelationID: correlationID}
	s.after(s.delay, func() {
		if err := s.queue.Push(context.Background(), ev); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				s.logger.Printf("sampler: zone %d sample dropped, shutting down", zone)
				return
			}
			s.logger.Printf("sampler: zone %d enqueue: %v", zone, err)
		}
	})
}

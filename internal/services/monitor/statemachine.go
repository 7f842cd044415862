package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/dedup"
)

const (
	DefaultDedupTTL      = 10 * time.Minute
	DefaultShutdownGrace = 5 * time.Second
)

type MeterReader interface {
	Read(ctx context.Context) (model.Reading, error)
}

// RecordSink stores finalized runs and nightly meter readings.
type RecordSink interface {
	WriteRun(ctx context.Context, rec model.RunRecord) error
	WriteDaily(ctx context.Context, rec model.DailyRecord) error
}

type Alerter interface {
	Alert(ctx context.Context, a model.Alert) error
}

type Config struct {
	Queue    *Queue
	Meter    MeterReader
	Sink     RecordSink
	Alerts   Alerter
	Sampler  FlowArmer
	SelfTest *Latch

	Zones []model.ZoneInfo
	// FlowLimits is the per-zone flow ceiling in gpm, keyed by zone number.
	FlowLimits map[int]float64
	DedupTTL   time.Duration

	Logger  *log.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// StateMachine is the only writer of zone state. Every mutation happens on
// the goroutine running Run (or the caller of Handle in tests).
type StateMachine struct {
	zones      Registry
	queue      *Queue
	meter      MeterReader
	sink       RecordSink
	alerts     Alerter
	sampler    FlowArmer
	selfTest   *Latch
	flowLimits map[int]float64
	seen       *dedup.Deduper

	logger  *log.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewStateMachine(cfg Config) (*StateMachine, error) {
	if cfg.Queue == nil {
		return nil, errors.New("monitor: queue is nil")
	}
	if cfg.Meter == nil {
		return nil, errors.New("monitor: meter is nil")
	}
	if cfg.Sampler == nil {
		return nil, errors.New("monitor: flow sampler is nil")
	}
	zones, err := NewRegistry(cfg.Zones)
	if err != nil {
		return nil, err
	}
	if cfg.SelfTest == nil {
		cfg.SelfTest = NewLatch()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Alerts == nil {
		cfg.Alerts = NopAlerter{}
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StateMachine{
		zones:      zones,
		queue:      cfg.Queue,
		meter:      cfg.Meter,
		sink:       cfg.Sink,
		alerts:     cfg.Alerts,
		sampler:    cfg.Sampler,
		selfTest:   cfg.SelfTest,
		flowLimits: cfg.FlowLimits,
		seen:       dedup.New(cfg.DedupTTL, 4096).WithClock(cfg.Now),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}, nil
}

// Run consumes the queue until ctx is cancelled, then drains what is already
// buffered for at most grace.
func (m *StateMachine) Run(ctx context.Context, grace time.Duration) {
	for {
		select {
		case <-ctx.Done():
			m.drain(grace)
			return
		case ev := <-m.queue.Events():
			m.Handle(ctx, ev)
		}
	}
}

func (m *StateMachine) drain(grace time.Duration) {
	m.queue.Close()
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	handled := 0
	for {
		select {
		case <-ctx.Done():
			left := m.queue.Len()
			m.logger.Printf("monitor: shutdown grace expired, %d events discarded", left)
			m.metrics.DroppedOnShutdown(left)
			return
		case ev := <-m.queue.Events():
			m.Handle(ctx, ev)
			handled++
		default:
			if handled > 0 {
				m.logger.Printf("monitor: drained %d events on shutdown", handled)
			}
			return
		}
	}
}

// Handle applies one event.
func (m *StateMachine) Handle(ctx context.Context, ev model.Event) {
	var outcome string
	switch e := ev.(type) {
	case model.WebhookEvent:
		outcome = m.handleWebhook(ctx, e)
	case model.FlowSampleEvent:
		outcome = m.handleFlowSample(ctx, e)
	case model.StatusRequest:
		select {
		case e.Reply <- m.zones.Snapshot():
			outcome = "ok"
		default:
			outcome = "abandoned"
		}
	default:
		m.logger.Printf("monitor: unexpected event %T", ev)
		outcome = "ignored"
	}
	m.metrics.Event(model.EventKind(ev), outcome)
	m.metrics.QueueDepth(m.queue.Len())
}

func (m *StateMachine) handleWebhook(ctx context.Context, e model.WebhookEvent) string {
	switch e.Type {
	case model.EventSelfTest:
		m.selfTest.Set()
		return "selftest"
	case model.EventForeign:
		m.logger.Printf("monitor: ignoring %s notification", e.RawType)
		return "ignored"
	}
	if e.EventID == "" || e.ZoneNumber == nil {
		m.logger.Printf("monitor: %s without eventId or zoneNumber dropped", e.RawType)
		return "malformed"
	}
	zone, ok := m.zones[*e.ZoneNumber]
	if !ok {
		m.logger.Printf("monitor: %s for unknown zone %d dropped", e.RawType, *e.ZoneNumber)
		return "unknown_zone"
	}
	if !m.seen.ShouldProcess(e.EventID) {
		m.logger.Printf("monitor: zone %d replayed event %s dropped", zone.Number, e.EventID)
		return "duplicate"
	}

	if !zone.Open {
		if e.Type != model.EventStarted {
			m.logger.Printf("monitor: zone %d %s is not open, ignoring %s", zone.Number, zone.Name, e.Type)
			return "ignored"
		}
		m.open(ctx, zone, e.EventID)
		return "opened"
	}

	switch e.Type {
	case model.EventStarted:
		m.logger.Printf("monitor: zone %d %s already open, duplicate start ignored", zone.Number, zone.Name)
		return "ignored"
	case model.EventPaused:
		m.close(ctx, zone)
		m.logger.Printf("monitor: zone %d %s paused, %s so far", zone.Number, zone.Name, model.FormatUsage(zone.Usage))
		return "paused"
	case model.EventStopped, model.EventCompleted:
		m.finalize(ctx, zone, e.Type)
		return "finalized"
	default:
		m.logger.Printf("monitor: zone %d unexpected event type %q, finalizing as stopped", zone.Number, e.RawType)
		m.finalize(ctx, zone, model.EventStopped)
		return "finalized"
	}
}

func (m *StateMachine) open(ctx context.Context, z *model.ZoneState, eventID string) {
	r := m.readMeter(ctx)
	z.MeterStart = r.Accumulated
	z.Open = true
	z.CorrelationID = eventID
	if z.FlowRate == nil {
		m.sampler.Arm(z.Number, eventID)
	}
	m.logger.Printf("monitor: zone %d %s opened", z.Number, z.Name)
}

// close folds the segment that just ended into the run's usage. Once usage
// is unknown it stays unknown until the run is finalized.
func (m *StateMachine) close(ctx context.Context, z *model.ZoneState) {
	end := m.readMeter(ctx).Accumulated
	switch {
	case z.Usage == nil:
	case z.MeterStart == nil || end == nil:
		z.Usage = nil
	case *end < *z.MeterStart:
		m.logger.Printf("monitor: zone %d meter went backwards (%.2f -> %.2f), usage unknown", z.Number, *z.MeterStart, *end)
		z.Usage = nil
	default:
		u := *z.Usage + (*end - *z.MeterStart)
		z.Usage = &u
	}
	z.Open = false
	z.MeterStart = nil
}

func (m *StateMachine) finalize(ctx context.Context, z *model.ZoneState, endedBy model.EventType) {
	m.close(ctx, z)
	snap := z.Snapshot()
	rec := model.RunRecord{
		Zone:      z.Number,
		ZoneName:  z.Name,
		Usage:     snap.Usage,
		Flow:      snap.FlowRate,
		EventType: endedBy,
		Timestamp: m.now(),
	}
	m.logger.Printf("monitor: zone %d %s %s - %s, %s", z.Number, z.Name, endedBy, model.FormatUsage(rec.Usage), model.FormatFlow(rec.Flow))
	if err := m.sink.WriteRun(ctx, rec); err != nil {
		m.logger.Printf("monitor: zone %d write run: %v", z.Number, err)
	}
	m.metrics.RunFinalized(endedBy.String())

	zero := 0.0
	z.Usage = &zero
	z.FlowRate = nil
	z.CorrelationID = ""
}

func (m *StateMachine) handleFlowSample(ctx context.Context, e model.FlowSampleEvent) string {
	z, ok := m.zones[e.ZoneNumber]
	if !ok || !z.Open || z.CorrelationID != e.CorrelationID {
		m.metrics.StaleSample()
		return "stale"
	}
	z.FlowRate = m.readMeter(ctx).Flow
	if z.FlowRate == nil {
		return "unknown"
	}
	if limit, ok := m.flowLimits[z.Number]; ok && *z.FlowRate > limit {
		flow := *z.FlowRate
		m.raise(ctx, model.Alert{
			Kind:    model.AlertExcessFlow,
			Message: fmt.Sprintf("Zone %d %s flow %s exceeds limit %.2f gpm", z.Number, z.Name, model.FormatFlow(&flow), limit),
			Zone:    z.Number,
			Value:   &flow,
		})
		return "excess_flow"
	}
	return "sampled"
}

func (m *StateMachine) readMeter(ctx context.Context) model.Reading {
	r, err := m.meter.Read(ctx)
	if err != nil {
		m.logger.Printf("monitor: meter read: %v", err)
		m.metrics.MeterError()
		return model.Reading{}
	}
	return r
}

func (m *StateMachine) raise(ctx context.Context, a model.Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now()
	}
	m.logger.Printf("monitor: ALERT %s: %s", a.Kind, a.Message)
	m.metrics.Alert(string(a.Kind))
	if err := m.alerts.Alert(ctx, a); err != nil {
		m.logger.Printf("monitor: alert %s: %v", a.Kind, err)
	}
}

// Zones asks the consumer for a snapshot of every zone through the queue.
func Zones(ctx context.Context, q *Queue) ([]model.ZoneState, error) {
	reply := make(chan []model.ZoneState, 1)
	if err := q.Push(ctx, model.StatusRequest{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case zs := <-reply:
		return zs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

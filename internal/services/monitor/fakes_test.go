package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
)

var errMeterDown = errors.New("meter down")

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func f(v float64) *float64 { return &v }

func acc(v float64) model.Reading  { return model.Reading{Accumulated: f(v)} }
func flow(v float64) model.Reading { return model.Reading{Flow: f(v)} }

type meterStep struct {
	r   model.Reading
	err error
}

// fakeMeter replays a script of readings; once exhausted it keeps failing.
type fakeMeter struct {
	mu    sync.Mutex
	steps []meterStep
	calls int
}

func (m *fakeMeter) push(r model.Reading) *fakeMeter {
	m.mu.Lock()
	m.steps = append(m.steps, meterStep{r: r})
	m.mu.Unlock()
	return m
}

func (m *fakeMeter) fail() *fakeMeter {
	m.mu.Lock()
	m.steps = append(m.steps, meterStep{err: errMeterDown})
	m.mu.Unlock()
	return m
}

func (m *fakeMeter) Read(context.Context) (model.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.steps) == 0 {
		return model.Reading{}, errMeterDown
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s.r, s.err
}

func (m *fakeMeter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingSink struct {
	mu    sync.Mutex
	runs  []model.RunRecord
	daily []model.DailyRecord
	err   error
}

func (s *recordingSink) WriteRun(_ context.Context, rec model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	return s.err
}

func (s *recordingSink) WriteDaily(_ context.Context, rec model.DailyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily = append(s.daily, rec)
	return s.err
}

func (s *recordingSink) Runs() []model.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RunRecord(nil), s.runs...)
}

func (s *recordingSink) Daily() []model.DailyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DailyRecord(nil), s.daily...)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, al model.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *recordingAlerter) Alerts() []model.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Alert(nil), a.alerts...)
}

type armed struct {
	zone int
	id   string
}

// manualArmer records arms; the test decides when a sample fires.
type manualArmer struct {
	mu   sync.Mutex
	arms []armed
}

func (a *manualArmer) Arm(zone int, correlationID string) {
	a.mu.Lock()
	a.arms = append(a.arms, armed{zone, correlationID})
	a.mu.Unlock()
}

func (a *manualArmer) Armed() []armed {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]armed(nil), a.arms...)
}

var testZones = []model.ZoneInfo{
	{Number: 1, ID: "z1", Name: "Front Lawn"},
	{Number: 3, ID: "z3", Name: "Roses"},
	{Number: 4, ID: "z4", Name: "Garden"},
}

type harness struct {
	sm     *StateMachine
	queue  *Queue
	meter  *fakeMeter
	sink   *recordingSink
	alerts *recordingAlerter
	armer  *manualArmer
	latch  *Latch
}

func newHarness(limits map[int]float64, metrics *observability.Metrics) (*harness, error) {
	h := &harness{
		queue:  NewQueue(16),
		meter:  &fakeMeter{},
		sink:   &recordingSink{},
		alerts: &recordingAlerter{},
		armer:  &manualArmer{},
		latch:  NewLatch(),
	}
	sm, err := NewStateMachine(Config{
		Queue:      h.queue,
		Meter:      h.meter,
		Sink:       h.sink,
		Alerts:     h.alerts,
		Sampler:    h.armer,
		SelfTest:   h.latch,
		Zones:      testZones,
		FlowLimits: limits,
		Logger:     quietLogger(),
		Metrics:    metrics,
		Now:        func() time.Time { return time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC) },
	})
	h.sm = sm
	return h, err
}

func webhook(id string, t model.EventType, zone int) model.WebhookEvent {
	z := zone
	return model.WebhookEvent{EventID: id, Type: t, RawType: "DEVICE_ZONE_RUN_" + t.String() + "_EVENT", ZoneNumber: &z}
}

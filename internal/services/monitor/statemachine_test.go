package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
)

func TestNewStateMachineValidates(t *testing.T) {
	_, err := NewStateMachine(Config{Meter: &fakeMeter{}, Sampler: &manualArmer{}, Zones: testZones})
	require.Error(t, err)

	_, err = NewStateMachine(Config{Queue: NewQueue(1), Meter: &fakeMeter{}, Sampler: &manualArmer{}})
	require.Error(t, err)

	dup := []model.ZoneInfo{{Number: 1}, {Number: 1}}
	_, err = NewStateMachine(Config{Queue: NewQueue(1), Meter: &fakeMeter{}, Sampler: &manualArmer{}, Zones: dup})
	require.Error(t, err)
}

func TestRunWithoutEventsThenCompleted(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(100)).push(flow(2.5)).push(acc(112))

	h.sm.Handle(ctx, webhook("e1", model.EventStarted, 3))
	require.Equal(t, []armed{{3, "e1"}}, h.armer.Armed())

	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "e1"})
	h.sm.Handle(ctx, webhook("e2", model.EventCompleted, 3))

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Zone)
	assert.Equal(t, "Roses", runs[0].ZoneName)
	assert.Equal(t, model.EventCompleted, runs[0].EventType)
	require.NotNil(t, runs[0].Usage)
	require.NotNil(t, runs[0].Flow)
	assert.InDelta(t, 12.0, *runs[0].Usage, 1e-9)
	assert.InDelta(t, 2.5, *runs[0].Flow, 1e-9)

	z := h.sm.zones[3]
	assert.False(t, z.Open)
	require.NotNil(t, z.Usage)
	assert.Equal(t, 0.0, *z.Usage)
	assert.Nil(t, z.FlowRate)
}

func TestPauseResumeSumsBothSegments(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(100)).push(acc(103)).push(acc(110)).push(acc(115))

	h.sm.Handle(ctx, webhook("a", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("b", model.EventPaused, 1))
	assert.False(t, h.sm.zones[1].Open)
	assert.Empty(t, h.sink.Runs(), "pause must not emit")
	require.NotNil(t, h.sm.zones[1].Usage)
	assert.InDelta(t, 3.0, *h.sm.zones[1].Usage, 1e-9)

	h.sm.Handle(ctx, webhook("c", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("d", model.EventStopped, 1))

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Usage)
	assert.InDelta(t, 8.0, *runs[0].Usage, 1e-9)
	assert.Nil(t, runs[0].Flow)
	assert.Equal(t, model.EventStopped, runs[0].EventType)
	// flow never sampled, so both opens armed the sampler
	assert.Equal(t, []armed{{1, "a"}, {1, "c"}}, h.armer.Armed())
}

func TestDuplicateStartedIsNoop(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(50)).push(acc(60))

	h.sm.Handle(ctx, webhook("e1", model.EventStarted, 4))
	h.sm.Handle(ctx, webhook("e1b", model.EventStarted, 4))

	z := h.sm.zones[4]
	assert.True(t, z.Open)
	require.NotNil(t, z.MeterStart)
	assert.Equal(t, 50.0, *z.MeterStart)
	assert.Equal(t, "e1", z.CorrelationID)
	assert.Len(t, h.armer.Armed(), 1)
	assert.Equal(t, 1, h.meter.Calls())
}

func TestStaleFlowSampleDiscarded(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(10)).push(acc(11)).push(acc(20)).push(flow(3.0))

	h.sm.Handle(ctx, webhook("run1", model.EventStarted, 3))
	h.sm.Handle(ctx, webhook("stop1", model.EventStopped, 3))
	h.sm.Handle(ctx, webhook("run2", model.EventStarted, 3))
	calls := h.meter.Calls()

	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "run1"})
	assert.Nil(t, h.sm.zones[3].FlowRate)
	assert.Equal(t, calls, h.meter.Calls(), "stale sample must not read the meter")

	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "run2"})
	require.NotNil(t, h.sm.zones[3].FlowRate)
	assert.Equal(t, 3.0, *h.sm.zones[3].FlowRate)
}

func TestFlowSampleForClosedZoneDiscarded(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(1)).push(acc(2))

	h.sm.Handle(ctx, webhook("e1", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("e2", model.EventPaused, 1))
	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 1, CorrelationID: "e1"})
	assert.Nil(t, h.sm.zones[1].FlowRate)
	assert.Equal(t, 2, h.meter.Calls())
}

func TestUnknownZoneDropped(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	before := h.sm.zones.Snapshot()

	h.sm.Handle(context.Background(), webhook("x", model.EventStarted, 99))
	h.sm.Handle(context.Background(), model.FlowSampleEvent{ZoneNumber: 99, CorrelationID: "x"})

	assert.Equal(t, before, h.sm.zones.Snapshot())
	assert.Zero(t, h.meter.Calls())
	assert.Empty(t, h.armer.Armed())
}

func TestMissingFieldsDropped(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	noZone := model.WebhookEvent{EventID: "x", Type: model.EventStarted}
	noID := webhook("", model.EventStarted, 1)
	h.sm.Handle(ctx, noZone)
	h.sm.Handle(ctx, noID)

	assert.False(t, h.sm.zones[1].Open)
	assert.Zero(t, h.meter.Calls())
}

func TestFailedMeterReadAtStopYieldsUnknownUsage(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(100)).push(flow(1.75)).fail()

	h.sm.Handle(ctx, webhook("e1", model.EventStarted, 3))
	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "e1"})
	h.sm.Handle(ctx, webhook("e2", model.EventStopped, 3))

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Usage)
	require.NotNil(t, runs[0].Flow)
	assert.Equal(t, 1.75, *runs[0].Flow)
	assert.False(t, h.sm.zones[3].Open)
}

func TestUnknownUsageIsStickyAcrossResume(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.fail().push(acc(10)).push(acc(20)).push(acc(30))

	h.sm.Handle(ctx, webhook("a", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("b", model.EventPaused, 1))
	assert.Nil(t, h.sm.zones[1].Usage)

	h.sm.Handle(ctx, webhook("c", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("d", model.EventCompleted, 1))

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Usage)
	// next run starts from zero again
	require.NotNil(t, h.sm.zones[1].Usage)
	assert.Equal(t, 0.0, *h.sm.zones[1].Usage)
}

func TestMeterGoingBackwardsIsUnknown(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(500)).push(acc(2))

	h.sm.Handle(ctx, webhook("a", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("b", model.EventStopped, 1))

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Usage)
}

func TestEventsForClosedZoneIgnored(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i, typ := range []model.EventType{model.EventPaused, model.EventStopped, model.EventCompleted, model.EventUnknown} {
		h.sm.Handle(ctx, webhook(string(rune('a'+i)), typ, 4))
	}
	assert.False(t, h.sm.zones[4].Open)
	assert.Empty(t, h.sink.Runs())
	assert.Zero(t, h.meter.Calls())
}

func TestUnknownSubtypeWhileOpenFinalizesAsStopped(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(7)).push(acc(9))

	h.sm.Handle(ctx, webhook("a", model.EventStarted, 4))
	h.sm.Handle(ctx, model.WebhookEvent{EventID: "b", Type: model.EventUnknown, RawType: "DEVICE_ZONE_RUN_SKIPPED_EVENT", ZoneNumber: func() *int { n := 4; return &n }()})

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, model.EventStopped, runs[0].EventType)
	assert.InDelta(t, 2.0, *runs[0].Usage, 1e-9)
}

func TestReplayedEventIDDropped(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(1)).push(acc(2))

	h.sm.Handle(ctx, webhook("s", model.EventStarted, 1))
	h.sm.Handle(ctx, webhook("t", model.EventStopped, 1))
	h.sm.Handle(ctx, webhook("s", model.EventStarted, 1))

	assert.False(t, h.sm.zones[1].Open)
	assert.Equal(t, 2, h.meter.Calls())
}

func TestSelfTestSetsLatchAndForeignIgnored(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	h.sm.Handle(ctx, model.WebhookEvent{EventID: "x", Type: model.EventForeign, RawType: "DEVICE_STATUS_EVENT"})
	assert.False(t, h.latch.Wait(ctx, 10*time.Millisecond))

	h.sm.Handle(ctx, model.WebhookEvent{EventID: "y", Type: model.EventSelfTest, RawType: model.SelfTestType})
	assert.True(t, h.latch.Wait(ctx, 10*time.Millisecond))
	assert.Zero(t, h.meter.Calls())
}

func TestExcessFlowAlert(t *testing.T) {
	h, err := newHarness(map[int]float64{3: 2.0, 1: 10}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(0)).push(flow(2.5)).push(acc(0)).push(flow(5))

	h.sm.Handle(ctx, webhook("a", model.EventStarted, 3))
	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "a"})
	h.sm.Handle(ctx, webhook("b", model.EventStarted, 1))
	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 1, CorrelationID: "b"})

	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertExcessFlow, alerts[0].Kind)
	assert.Equal(t, 3, alerts[0].Zone)
	assert.Contains(t, alerts[0].Message, "Roses")
}

func TestFlowKnownSkipsSamplerOnResume(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	h.meter.push(acc(0)).push(flow(2)).push(acc(1)).push(acc(1))

	h.sm.Handle(ctx, webhook("a", model.EventStarted, 3))
	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "a"})
	h.sm.Handle(ctx, webhook("b", model.EventPaused, 3))
	h.sm.Handle(ctx, webhook("c", model.EventStarted, 3))

	assert.Len(t, h.armer.Armed(), 1)
}

func TestRunServesStatusAndDrainsOnShutdown(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	h.meter.push(acc(5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sm.Run(ctx, time.Second)
		close(done)
	}()

	require.NoError(t, h.queue.Push(ctx, webhook("a", model.EventStarted, 4)))
	zones, err := Zones(ctx, h.queue)
	require.NoError(t, err)
	require.Len(t, zones, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{zones[0].Number, zones[1].Number, zones[2].Number})
	assert.True(t, zones[2].Open)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("state machine did not stop")
	}
	assert.ErrorIs(t, h.queue.Push(context.Background(), webhook("b", model.EventStopped, 4)), ErrQueueClosed)
}

func TestDrainHandlesBufferedEvents(t *testing.T) {
	h, err := newHarness(nil, nil)
	require.NoError(t, err)
	h.meter.push(acc(1)).push(acc(4))

	ctx := context.Background()
	require.NoError(t, h.queue.Push(ctx, webhook("a", model.EventStarted, 1)))
	require.NoError(t, h.queue.Push(ctx, webhook("b", model.EventCompleted, 1)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	h.sm.Run(cancelled, time.Second)

	runs := h.sink.Runs()
	require.Len(t, runs, 1)
	assert.InDelta(t, 3.0, *runs[0].Usage, 1e-9)
	assert.Zero(t, h.queue.Len())
}

func TestHandleCountsOutcomes(t *testing.T) {
	metrics := observability.NewMetrics()
	h, err := newHarness(nil, metrics)
	require.NoError(t, err)
	ctx := context.Background()

	h.sm.Handle(ctx, model.WebhookEvent{Type: model.EventForeign, RawType: "DEVICE_STATUS_EVENT"})
	h.sm.Handle(ctx, webhook("u1", model.EventStarted, 9))
	h.sm.Handle(ctx, model.FlowSampleEvent{ZoneNumber: 3, CorrelationID: "gone"})

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `flowmon_events_total{kind="webhook",outcome="ignored"} 1`)
	assert.Contains(t, text, `flowmon_events_total{kind="webhook",outcome="unknown_zone"} 1`)
	assert.Contains(t, text, `flowmon_stale_flow_samples_total 1`)
}

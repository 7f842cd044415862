package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
)

const (
	DefaultLeakCheckHour  = 23
	DefaultLeakInterval   = time.Hour
	DefaultLeakThreshold  = 0.1
	DefaultSelfTestWait   = 10 * time.Second
	selfTestFailedMessage = "Webhook test failed: irrigation notifications are not reaching the monitor"
)

type WatchdogConfig struct {
	Meter    MeterReader
	Sink     RecordSink
	Alerts   Alerter
	Poster   SelfTestPoster
	SelfTest *Latch

	Hour          int
	Location      *time.Location
	Interval      time.Duration
	LeakThreshold float64
	AckTimeout    time.Duration
	// TestMode runs the first check immediately and without the idle interval.
	TestMode bool

	Logger  *log.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

// CheckResult is the outcome of one nightly check, reported on /healthz.
type CheckResult struct {
	At         time.Time `json:"at"`
	Start      *float64  `json:"start_cf,omitempty"`
	End        *float64  `json:"end_cf,omitempty"`
	Leakage    *float64  `json:"leakage_cf,omitempty"`
	Leak       bool      `json:"leak"`
	SelfTestOK bool      `json:"self_test_ok"`
}

// Watchdog runs the nightly idle-period leak check followed by the
// notification path self-test.
type Watchdog struct {
	cfg WatchdogConfig

	mu   sync.Mutex
	last *CheckResult
}

func NewWatchdog(cfg WatchdogConfig) (*Watchdog, error) {
	if cfg.Meter == nil {
		return nil, errors.New("watchdog: meter is nil")
	}
	if cfg.Poster == nil || cfg.SelfTest == nil {
		return nil, errors.New("watchdog: self-test poster and latch are required")
	}
	if cfg.Hour < 0 || cfg.Hour > 23 {
		return nil, fmt.Errorf("watchdog: check hour %d out of range", cfg.Hour)
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Alerts == nil {
		cfg.Alerts = NopAlerter{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLeakInterval
	}
	if cfg.LeakThreshold <= 0 {
		cfg.LeakThreshold = DefaultLeakThreshold
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultSelfTestWait
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Watchdog{cfg: cfg}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns the first hour:00 in loc strictly after now.
func NextRun(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run loops until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	quick := w.cfg.TestMode
	for {
		if !quick {
			now := w.cfg.Now()
			next := NextRun(now, w.cfg.Hour, w.cfg.Location)
			w.cfg.Logger.Printf("watchdog: next leak check at %s", next.Format(time.RFC3339))
			if err := w.cfg.Sleep(ctx, next.Sub(now)); err != nil {
				return nil
			}
		}
		w.Check(ctx, quick)
		quick = false
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Check runs one leak check and self-test. quick skips the idle interval.
func (w *Watchdog) Check(ctx context.Context, quick bool) CheckResult {
	res := CheckResult{At: w.cfg.Now()}
	start := w.read(ctx)
	res.Start = start.Accumulated
	if !quick {
		if err := w.cfg.Sleep(ctx, w.cfg.Interval); err != nil {
			return res
		}
	}
	end := w.read(ctx)
	res.End = end.Accumulated

	if res.Start != nil && res.End != nil {
		l := *res.End - *res.Start
		res.Leakage = &l
		w.cfg.Logger.Printf("watchdog: idle leakage %.2f cf", l)
		if l > w.cfg.LeakThreshold {
			res.Leak = true
			w.raise(ctx, model.Alert{
				Kind:    model.AlertLeak,
				Message: fmt.Sprintf("Water leak detected: %.2f cf used while irrigation was idle", l),
				Value:   &l,
			})
		}
	} else {
		w.cfg.Logger.Printf("watchdog: leak check skipped, meter reading unavailable")
	}

	if res.End != nil {
		rec := model.DailyRecord{Reading: *res.End, Leakage: res.Leakage, Timestamp: w.cfg.Now()}
		if err := w.cfg.Sink.WriteDaily(ctx, rec); err != nil {
			w.cfg.Logger.Printf("watchdog: write daily: %v", err)
		}
	}

	res.SelfTestOK = w.selfTest(ctx)
	w.cfg.Metrics.SelfTest(res.SelfTestOK)
	if !res.SelfTestOK {
		w.raise(ctx, model.Alert{Kind: model.AlertWebhookPath, Message: selfTestFailedMessage})
	}

	w.mu.Lock()
	w.last = &res
	w.mu.Unlock()
	return res
}

// selfTest clears the latch, posts the marker and waits for the consumer to
// see it come back through the receiver.
func (w *Watchdog) selfTest(ctx context.Context) bool {
	w.cfg.SelfTest.Clear()
	if err := w.cfg.Poster.PostSelfTest(ctx); err != nil {
		w.cfg.Logger.Printf("watchdog: self-test post: %v", err)
		return false
	}
	if !w.cfg.SelfTest.Wait(ctx, w.cfg.AckTimeout) {
		w.cfg.Logger.Printf("watchdog: self-test not received within %s", w.cfg.AckTimeout)
		return false
	}
	w.cfg.Logger.Printf("watchdog: self-test received")
	return true
}

func (w *Watchdog) read(ctx context.Context) model.Reading {
	r, err := w.cfg.Meter.Read(ctx)
	if err != nil {
		w.cfg.Logger.Printf("watchdog: meter read: %v", err)
		w.cfg.Metrics.MeterError()
		return model.Reading{}
	}
	return r
}

func (w *Watchdog) raise(ctx context.Context, a model.Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = w.cfg.Now()
	}
	w.cfg.Logger.Printf("watchdog: ALERT %s: %s", a.Kind, a.Message)
	w.cfg.Metrics.Alert(string(a.Kind))
	if err := w.cfg.Alerts.Alert(ctx, a); err != nil {
		w.cfg.Logger.Printf("watchdog: alert %s: %v", a.Kind, err)
	}
}

// Last returns the most recent check, or nil before the first one.
func (w *Watchdog) Last() *CheckResult {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil
	}
	c := *w.last
	return &c
}

package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/rabbitmq"
)

const (
	TopicDaily = "irrigation/meter/daily"
	TopicAlert = "irrigation/alert"
)

func runTopic(zone int) string { return fmt.Sprintf("irrigation/zone/%d/run", zone) }

type NopSink struct{}

func (NopSink) WriteRun(context.Context, model.RunRecord) error     { return nil }
func (NopSink) WriteDaily(context.Context, model.DailyRecord) error { return nil }

type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, model.Alert) error { return nil }

// NamedSink labels a sink for the sink error metric.
type NamedSink struct {
	Name string
	RecordSink
}

// FanoutSink writes every record to all sinks. A failing sink does not stop
// the others; the errors are joined.
type FanoutSink struct {
	Sinks   []NamedSink
	Metrics *observability.Metrics
}

func (f FanoutSink) WriteRun(ctx context.Context, rec model.RunRecord) error {
	var errs []error
	for _, s := range f.Sinks {
		if err := s.WriteRun(ctx, rec); err != nil {
			f.Metrics.SinkError(s.Name)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (f FanoutSink) WriteDaily(ctx context.Context, rec model.DailyRecord) error {
	var errs []error
	for _, s := range f.Sinks {
		if err := s.WriteDaily(ctx, rec); err != nil {
			f.Metrics.SinkError(s.Name)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// FanoutAlerter delivers an alert through every channel.
type FanoutAlerter []Alerter

func (f FanoutAlerter) Alert(ctx context.Context, a model.Alert) error {
	var errs []error
	for _, al := range f {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BusSink mirrors records and alerts on MQTT. A nil publisher or a dropped
// connection turns every call into rabbitmq.ErrNotConnected.
type BusSink struct {
	pub rabbitmq.IPublisher
	qos byte
}

func NewBusSink(pub rabbitmq.IPublisher) *BusSink {
	return &BusSink{pub: pub, qos: 1}
}

func (b *BusSink) publish(topic string, v any) error {
	if b == nil || b.pub == nil {
		return rabbitmq.ErrNotConnected
	}
	return b.pub.PublishJSON(topic, b.qos, v)
}

func (b *BusSink) WriteRun(_ context.Context, rec model.RunRecord) error {
	return b.publish(runTopic(rec.Zone), messages.ZoneRunEvent{
		Zone:      rec.Zone,
		ZoneName:  rec.ZoneName,
		Usage:     rec.Usage,
		Flow:      rec.Flow,
		EndedBy:   rec.EventType.String(),
		Timestamp: rec.Timestamp.UTC(),
	})
}

func (b *BusSink) WriteDaily(_ context.Context, rec model.DailyRecord) error {
	return b.publish(TopicDaily, messages.DailyMeterEvent{
		Reading:   rec.Reading,
		Leakage:   rec.Leakage,
		Timestamp: rec.Timestamp.UTC(),
	})
}

func (b *BusSink) Alert(_ context.Context, a model.Alert) error {
	return b.publish(TopicAlert, messages.AlertEvent{
		Kind:      string(a.Kind),
		Message:   a.Message,
		Zone:      a.Zone,
		Value:     a.Value,
		Timestamp: a.Timestamp.UTC(),
	})
}

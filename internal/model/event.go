package model

import "strings"

// EventType is the closed set of notification subtypes the monitor acts on.
// It is decoded once, at the HTTP boundary.
type EventType int

const (
	EventUnknown   EventType = iota // zone-run notification with an unrecognized subtype
	EventStarted                    // DEVICE_ZONE_RUN_STARTED_EVENT
	EventPaused                     // DEVICE_ZONE_RUN_PAUSED_EVENT
	EventStopped                    // DEVICE_ZONE_RUN_STOPPED_EVENT
	EventCompleted                  // DEVICE_ZONE_RUN_COMPLETED_EVENT
	EventSelfTest                   // private marker posted by the watchdog
	EventForeign                    // not a zone-run notification at all
)

const (
	ZoneRunPrefix = "DEVICE_ZONE_RUN_"
	SelfTestType  = "WEBHOOK_TEST"
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "STARTED"
	case EventPaused:
		return "PAUSED"
	case EventStopped:
		return "STOPPED"
	case EventCompleted:
		return "COMPLETED"
	case EventSelfTest:
		return "SELFTEST"
	case EventForeign:
		return "FOREIGN"
	default:
		return "UNKNOWN"
	}
}

// ParseEventType maps a controller eventType string onto the tag set.
// "DEVICE_ZONE_RUN_STARTED_EVENT" -> EventStarted, "WEBHOOK_TEST" -> EventSelfTest.
func ParseEventType(s string) EventType {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == SelfTestType {
		return EventSelfTest
	}
	if !strings.HasPrefix(s, ZoneRunPrefix) {
		return EventForeign
	}
	sub := strings.TrimSuffix(strings.TrimPrefix(s, ZoneRunPrefix), "_EVENT")
	switch sub {
	case "STARTED":
		return EventStarted
	case "PAUSED":
		return EventPaused
	case "STOPPED":
		return EventStopped
	case "COMPLETED":
		return EventCompleted
	default:
		return EventUnknown
	}
}

// Event is anything the monitor's queue carries.
type Event interface {
	eventKind() string
}

// WebhookEvent is a decoded inbound notification.
type WebhookEvent struct {
	EventID         string
	Type            EventType
	RawType         string
	ZoneNumber      *int // nil when the payload did not carry one
	DurationSeconds *int
}

// FlowSampleEvent asks the consumer to read the flow rate of a zone, provided
// the run that armed it is still the current one.
type FlowSampleEvent struct {
	ZoneNumber    int
	CorrelationID string
}

// StatusRequest asks the consumer for a copy of every zone.
type StatusRequest struct {
	Reply chan []ZoneState
}

func (WebhookEvent) eventKind() string    { return "webhook" }
func (FlowSampleEvent) eventKind() string { return "flow_sample" }
func (StatusRequest) eventKind() string   { return "status" }

// EventKind returns the metric label for an event.
func EventKind(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventKind()
}

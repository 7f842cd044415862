package model

import (
	"fmt"
	"time"
)

// Reading is one sample from the water meter. Fields are nil when the meter
// did not report them.
type Reading struct {
	Accumulated *float64 `json:"accumulated"` // cubic feet
	Flow        *float64 `json:"flow"`        // gpm
}

// RunRecord is emitted once per finalized zone run.
type RunRecord struct {
	Zone      int
	ZoneName  string
	Usage     *float64
	Flow      *float64
	EventType EventType
	Timestamp time.Time
}

// DailyRecord is the nightly meter reading, optionally with the idle leakage.
type DailyRecord struct {
	Reading   float64
	Leakage   *float64
	Timestamp time.Time
}

type AlertKind string

const (
	AlertLeak        AlertKind = "leak"
	AlertExcessFlow  AlertKind = "excess_flow"
	AlertWebhookPath AlertKind = "webhook_path"
)

// Alert is an operator-facing push notification.
type Alert struct {
	Kind      AlertKind
	Message   string
	Zone      int
	Value     *float64
	Timestamp time.Time
}

// FormatUsage renders a usage volume the way the run log prints it.
func FormatUsage(v *float64) string {
	if v == nil {
		return "unknown usage"
	}
	return fmt.Sprintf("%.2f cf", *v)
}

// FormatFlow renders a flow rate the way the run log prints it.
func FormatFlow(v *float64) string {
	if v == nil {
		return "unknown flow"
	}
	return fmt.Sprintf("%.2f gpm", *v)
}

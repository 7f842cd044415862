package messages

import "time"

// DailyMeterEvent is published on irrigation/meter/daily after the nightly leak check.
type DailyMeterEvent struct {
	Reading   float64   `json:"reading_cf"`
	Leakage   *float64  `json:"leakage_cf,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

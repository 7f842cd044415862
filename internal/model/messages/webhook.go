package messages

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// WebhookPayload is the body Rachio POSTs to the callback URL.
type WebhookPayload struct {
	EventID   string      `json:"eventId"`
	EventType string      `json:"eventType"`
	Payload   ZonePayload `json:"payload"`
}

// ZonePayload carries the zone fields of a DEVICE_ZONE_RUN notification.
type ZonePayload struct {
	ZoneNumber      *int `json:"zoneNumber,omitempty"`
	DurationSeconds *int `json:"durationSeconds,omitempty"`
}

// UnmarshalJSON accepts zoneNumber/durationSeconds as number or string.
func (p *ZonePayload) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if n, ok := toInt(m["zoneNumber"]); ok {
		p.ZoneNumber = &n
	}
	if n, ok := toInt(m["durationSeconds"]); ok {
		p.DurationSeconds = &n
	}
	return nil
}

// toInt accepts whole numbers and numeric strings only. Fractional or
// out-of-range values are treated as absent so they cannot alias a real zone.
func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, false
		}
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 32)
		if err == nil {
			return int(n), true
		}
	}
	return 0, false
}

package messages

import "time"

// AlertEvent mirrors a push alert on irrigation/alert.
type AlertEvent struct {
	Kind      string    `json:"kind"` // leak | excess_flow | webhook_path
	Message   string    `json:"message"`
	Zone      int       `json:"zone,omitempty"`
	Value     *float64  `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

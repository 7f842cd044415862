package messages

import "time"

// ZoneRunEvent is published on irrigation/zone/{zone}/run when a run finalizes.
type ZoneRunEvent struct {
	Zone      int       `json:"zone"`
	ZoneName  string    `json:"zone_name"`
	Usage     *float64  `json:"usage_cf"` // null = unknown
	Flow      *float64  `json:"flow_gpm"` // null = unknown
	EndedBy   string    `json:"ended_by"` // STOPPED | COMPLETED | UNKNOWN
	Timestamp time.Time `json:"timestamp"`
}

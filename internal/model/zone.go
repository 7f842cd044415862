package model

// ZoneInfo is the controller's description of one irrigation zone.
type ZoneInfo struct {
	Number int    `json:"zone_number"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// ZoneState is the in-memory view of a zone. It is owned by the monitor's
// consumer goroutine; every other reader works on a copy.
type ZoneState struct {
	Number int    `json:"zone_number"`
	ID     string `json:"id"`
	Name   string `json:"name"`

	Open          bool     `json:"open"`
	MeterStart    *float64 `json:"meter_start,omitempty"`
	Usage         *float64 `json:"usage"` // nil = unknown for the rest of the run
	FlowRate      *float64 `json:"flow_rate,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// NewZoneState returns a closed zone with zero accumulated usage.
func NewZoneState(info ZoneInfo) *ZoneState {
	zero := 0.0
	return &ZoneState{
		Number: info.Number,
		ID:     info.ID,
		Name:   info.Name,
		Usage:  &zero,
	}
}

// Snapshot returns a deep copy safe to hand to another goroutine.
func (z *ZoneState) Snapshot() ZoneState {
	out := *z
	out.MeterStart = copyFloat(z.MeterStart)
	out.Usage = copyFloat(z.Usage)
	out.FlowRate = copyFloat(z.FlowRate)
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

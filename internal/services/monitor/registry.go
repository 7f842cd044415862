package monitor

import (
	"fmt"
	"sort"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

// Registry maps zone number to state. It is built once and then touched only
// by the state machine goroutine, so it carries no lock.
type Registry map[int]*model.ZoneState

func NewRegistry(zones []model.ZoneInfo) (Registry, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("monitor: no zones configured")
	}
	r := make(Registry, len(zones))
	for _, z := range zones {
		if _, dup := r[z.Number]; dup {
			return nil, fmt.Errorf("monitor: duplicate zone number %d", z.Number)
		}
		r[z.Number] = model.NewZoneState(z)
	}
	return r, nil
}

// Snapshot copies every zone, ordered by zone number.
func (r Registry) Snapshot() []model.ZoneState {
	out := make([]model.ZoneState, 0, len(r))
	for _, z := range r {
		out = append(out, z.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

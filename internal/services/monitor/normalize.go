package monitor

import (
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

const (
	measurementRun   = "zone_run"
	measurementDaily = "water_meter"
)

// RunToPoint maps a finalized run onto a zone_run point. Unknown usage or
// flow is written as usage_known/flow_known=false with the value field left out.
func RunToPoint(rec model.RunRecord) *write.Point {
	tags := map[string]string{
		"zone":     strconv.Itoa(rec.Zone),
		"ended_by": rec.EventType.String(),
	}
	if rec.ZoneName != "" {
		tags["zone_name"] = rec.ZoneName
	}
	fields := map[string]interface{}{
		"usage_known": rec.Usage != nil,
		"flow_known":  rec.Flow != nil,
	}
	if rec.Usage != nil {
		fields["usage"] = *rec.Usage
	}
	if rec.Flow != nil {
		fields["flow"] = *rec.Flow
	}
	return influxdb2.NewPoint(measurementRun, tags, fields, rec.Timestamp)
}

func DailyToPoint(rec model.DailyRecord) *write.Point {
	fields := map[string]interface{}{"reading": rec.Reading}
	if rec.Leakage != nil {
		fields["leakage"] = *rec.Leakage
	}
	return influxdb2.NewPoint(measurementDaily, map[string]string{}, fields, rec.Timestamp)
}

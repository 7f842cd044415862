package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

// RunView is one row of GET /runs/recent.
type RunView struct {
	Zone     int      `json:"zone"`
	ZoneName string   `json:"zone_name,omitempty"`
	Usage    *float64 `json:"usage_cf"`
	Flow     *float64 `json:"flow_gpm"`
	EndedBy  string   `json:"ended_by,omitempty"`
	Time     string   `json:"time"`
}

type RunSource interface {
	RecentRuns(ctx context.Context, minutes, limit int) ([]RunView, error)
}

type runQueryParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseRunQuery(r *http.Request, defMin, defLim, defTOms int) runQueryParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return runQueryParams{
		Minutes:   get("minutes", defMin, 1, 31*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
}

func buildRunsFlux(bucket string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, measurementRun, limit)
}

// InfluxRuns reads run records back from the runs bucket.
type InfluxRuns struct {
	query  api.QueryAPI
	bucket string
}

func NewInfluxRuns(q api.QueryAPI, bucket string) *InfluxRuns {
	return &InfluxRuns{query: q, bucket: bucket}
}

func (s *InfluxRuns) RecentRuns(ctx context.Context, minutes, limit int) ([]RunView, error) {
	res, err := s.query.Query(ctx, buildRunsFlux(s.bucket, minutes, limit))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	out := make([]RunView, 0, limit)
	for res.Next() {
		rec := res.Record()
		v := RunView{Time: rec.Time().UTC().Format(time.RFC3339)}
		if z, ok := rec.ValueByKey("zone").(string); ok {
			v.Zone, _ = strconv.Atoi(z)
		}
		v.ZoneName, _ = rec.ValueByKey("zone_name").(string)
		v.EndedBy, _ = rec.ValueByKey("ended_by").(string)
		v.Usage = asFloat(rec.ValueByKey("usage"))
		v.Flow = asFloat(rec.ValueByKey("flow"))
		out = append(out, v)
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate: %w", err)
	}
	return out, nil
}

func asFloat(v interface{}) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int64:
		f = float64(x)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = p
	default:
		return nil
	}
	return &f
}

// NewRecentRunsHandler serves GET /runs/recent?minutes=1440&limit=20.
// Query failures answer an empty list with an X-Error header.
func NewRecentRunsHandler(src RunSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseRunQuery(r, 1440, 20, 2000)
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		runs, err := src.RecentRuns(ctx, p.Minutes, p.Limit)
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			if len(runs) == 0 {
				_, _ = w.Write([]byte("[]"))
				return
			}
		}
		_ = json.NewEncoder(w).Encode(runs)
	})
}

// NewZonesHandler serves GET /zones from a snapshot taken by the consumer.
func NewZonesHandler(q *Queue, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		zones, err := Zones(ctx, q)
		if err != nil {
			http.Error(w, "zone state unavailable", http.StatusServiceUnavailable)
			return
		}
		if zones == nil {
			zones = []model.ZoneState{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(zones)
	})
}

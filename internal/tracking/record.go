package tracking

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Record is the summary of one finished session. OwnerID is set by the
// persistence layer.
type Record struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	DistanceM   float64        `json:"distance_m"`
	DurationMs  int64          `json:"duration_ms"`
	AvgSpeedKmh float64        `json:"avg_speed_kmh"`
	Calories    float64        `json:"calories"`
	Path        orb.LineString `json:"path"`
	Note        string         `json:"note,omitempty"`
	Manual      bool           `json:"manual"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

func assembleRecord(startedAt time.Time, snap TrackSnapshot, active time.Duration, energy EnergyModel) Record {
	path := make(orb.LineString, 0, len(snap.Fixes))
	for _, f := range snap.Fixes {
		path = append(path, f.Point())
	}
	return Record{
		ID:          uuid.NewString(),
		StartedAt:   startedAt,
		DistanceM:   snap.DistanceM,
		DurationMs:  active.Milliseconds(),
		AvgSpeedKmh: AverageSpeedKmh(snap.DistanceM, active),
		Calories:    energy.Estimate(snap.DistanceM),
		Path:        path,
	}
}

// NewManualRecord builds a record for a session entered by hand.
func NewManualRecord(startedAt time.Time, distanceM float64, d time.Duration, note string, energy EnergyModel) Record {
	return Record{
		ID:          uuid.NewString(),
		StartedAt:   startedAt,
		DistanceM:   distanceM,
		DurationMs:  d.Milliseconds(),
		AvgSpeedKmh: AverageSpeedKmh(distanceM, d),
		Calories:    energy.Estimate(distanceM),
		Note:        note,
		Manual:      true,
	}
}

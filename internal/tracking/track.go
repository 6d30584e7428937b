package tracking

import "backend-lifetrack/internal/shared/geo"

// Track is the append-only fix sequence of one activity plus its running
// distance in metres.
type Track struct {
	fixes     []Fix
	distanceM float64
}

type TrackSnapshot struct {
	Fixes     []Fix
	DistanceM float64
}

func (t *Track) Reset() {
	t.fixes = nil
	t.distanceM = 0
}

// Append stores fix and returns the distance it added.
func (t *Track) Append(fix Fix) float64 {
	delta := 0.0
	if n := len(t.fixes); n > 0 {
		last := t.fixes[n-1]
		delta = geo.HaversineM(last.Lat, last.Lng, fix.Lat, fix.Lng)
	}
	t.fixes = append(t.fixes, fix)
	t.distanceM += delta
	return delta
}

func (t *Track) Len() int { return len(t.fixes) }

func (t *Track) DistanceM() float64 { return t.distanceM }

func (t *Track) Snapshot() TrackSnapshot {
	fixes := make([]Fix, len(t.fixes))
	copy(fixes, t.fixes)
	return TrackSnapshot{Fixes: fixes, DistanceM: t.distanceM}
}

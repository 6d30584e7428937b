package geolocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-lifetrack/internal/shared/geo"
	"backend-lifetrack/internal/tracking"

	"github.com/paulmach/orb"
	"github.com/tkrajina/gpxgo/gpx"
)

// ReplaySource plays back the points of a GPX file as fixes.
type ReplaySource struct {
	fixes []tracking.Fix
}

func LoadReplay(path string) (*ReplaySource, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}
	return newReplay(g)
}

func ParseReplay(data []byte) (*ReplaySource, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}
	return newReplay(g)
}

func newReplay(g *gpx.GPX) (*ReplaySource, error) {
	var fixes []tracking.Fix
	add := func(p gpx.GPXPoint) {
		fixes = append(fixes, tracking.Fix{
			Lat:        p.Point.Latitude,
			Lng:        p.Point.Longitude,
			RecordedAt: p.Timestamp,
		})
	}
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				add(p)
			}
		}
	}
	if len(fixes) == 0 {
		for _, rte := range g.Routes {
			for _, p := range rte.Points {
				add(p)
			}
		}
	}
	if len(fixes) == 0 {
		return nil, errors.New("gpx file has no track or route points")
	}
	return &ReplaySource{fixes: fixes}, nil
}

func (r *ReplaySource) Fixes() []tracking.Fix {
	out := make([]tracking.Fix, len(r.fixes))
	copy(out, r.fixes)
	return out
}

func (r *ReplaySource) Len() int { return len(r.fixes) }

// LengthM is the distance along every point of the file, before any
// accuracy filtering.
func (r *ReplaySource) LengthM() float64 {
	path := make(orb.LineString, len(r.fixes))
	for i, f := range r.fixes {
		path[i] = f.Point()
	}
	return geo.PathLengthM(path)
}

// Subscribe emits one fix per interval (all at once when interval is 0) and
// closes the fix channel after the last point.
func (r *ReplaySource) Subscribe(ctx context.Context, interval, _ time.Duration) (<-chan tracking.Fix, <-chan error, error) {
	out := make(chan tracking.Fix)
	go func() {
		defer close(out)

		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for i, fix := range r.fixes {
			if i > 0 && tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- fix:
			}
		}
	}()
	return out, nil, nil
}

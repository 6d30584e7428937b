package activity

import (
	"fmt"

	"backend-lifetrack/internal/tracking"

	"github.com/tkrajina/gpxgo/gpx"
)

// GPX renders a record's path as a GPX 1.1 track. Only the first point is
// timestamped since records keep coordinates, not per-fix times.
func GPX(rec tracking.Record) ([]byte, error) {
	if len(rec.Path) == 0 {
		return nil, fmt.Errorf("%w: activity has no recorded path", ErrInvalidInput)
	}

	seg := gpx.GPXTrackSegment{}
	for i, p := range rec.Path {
		pt := gpx.GPXPoint{
			Point: gpx.Point{Latitude: p.Lat(), Longitude: p.Lon()},
		}
		if i == 0 {
			pt.Timestamp = rec.StartedAt.UTC()
		}
		seg.Points = append(seg.Points, pt)
	}

	g := &gpx.GPX{
		Version: "1.1",
		Creator: "lifetrack",
		Tracks: []gpx.GPXTrack{{
			Name:     "Run " + rec.StartedAt.UTC().Format("2006-01-02 15:04"),
			Type:     "running",
			Segments: []gpx.GPXTrackSegment{seg},
		}},
	}
	return g.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

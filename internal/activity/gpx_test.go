package activity

import (
	"errors"
	"testing"

	"github.com/tkrajina/gpxgo/gpx"
)

func TestGPXExport(t *testing.T) {
	rec := sampleRecord()
	data, err := GPX(rec)
	if err != nil {
		t.Fatalf("gpx: %v", err)
	}

	parsed, err := gpx.ParseBytes(data)
	if err != nil {
		t.Fatalf("exported gpx does not parse: %v", err)
	}
	if len(parsed.Tracks) != 1 || len(parsed.Tracks[0].Segments) != 1 {
		t.Fatalf("unexpected structure")
	}
	points := parsed.Tracks[0].Segments[0].Points
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[1].Point.Longitude != 0.0001 || points[1].Point.Latitude != 0 {
		t.Fatalf("coordinates swapped: %+v", points[1].Point)
	}
	if !points[0].Timestamp.Equal(rec.StartedAt) {
		t.Fatalf("first point should carry the start time")
	}
}

func TestGPXExportWithoutPath(t *testing.T) {
	rec := sampleRecord()
	rec.Path = nil
	if _, err := GPX(rec); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

package tracking

import (
	"time"

	"github.com/paulmach/orb"
)

// Fix is one geolocation sample. Accuracy is the horizontal error radius in
// metres; 0 means the source did not report one.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (f Fix) Point() orb.Point {
	return orb.Point{f.Lng, f.Lat}
}

package activity

import "time"

// ManualInput is a session typed in by the user instead of recorded.
type ManualInput struct {
	StartedAt  time.Time `json:"started_at"`
	DistanceM  float64   `json:"distance_m"`
	DurationMs int64     `json:"duration_ms"`
	Note       string    `json:"note"`
}

type Totals struct {
	Count      int     `json:"count"`
	DistanceM  float64 `json:"distance_m"`
	DurationMs int64   `json:"duration_ms"`
	Calories   float64 `json:"calories"`
}

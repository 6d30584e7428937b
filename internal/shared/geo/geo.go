package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// HaversineM returns the great-circle distance in metres between two
// lat/lng pairs.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lng1, lat1}, orb.Point{lng2, lat2})
}

// PathLengthM sums consecutive haversine distances along a path.
func PathLengthM(path orb.LineString) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += geo.DistanceHaversine(path[i-1], path[i])
	}
	return total
}

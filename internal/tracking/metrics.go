package tracking

import "time"

const DefaultKcalPerKm = 60.0

// AverageSpeedKmh returns 0 for a non-positive duration.
func AverageSpeedKmh(distanceM float64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return (distanceM / 1000) / d.Hours()
}

// EnergyModel estimates energy expenditure (kcal) for a distance in metres.
type EnergyModel interface {
	Estimate(distanceM float64) float64
}

// LinearEnergyModel is a flat per-kilometre rate. It ignores body mass, pace
// and elevation.
type LinearEnergyModel struct {
	KcalPerKm float64
}

func (m LinearEnergyModel) Estimate(distanceM float64) float64 {
	return distanceM / 1000 * m.KcalPerKm
}

type EnergyFunc func(distanceM float64) float64

func (f EnergyFunc) Estimate(distanceM float64) float64 { return f(distanceM) }

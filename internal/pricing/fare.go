package pricing

import "math"

// Config holds the fare schedule. Surge is deliberately absent here: it is
// dynamic, owned by the surge engine, and applied exactly once at final-fare
// computation.
type Config struct {
	BaseFare    float64
	PerKmRate   float64
	PerMinRate  float64
	MinimumFare float64
}

func DefaultConfig() Config {
	return Config{
		BaseFare:    40.00,
		PerKmRate:   12.00,
		PerMinRate:  1.50,
		MinimumFare: 60.00,
	}
}

// Estimate prices a planned route for the offer payload. No surge: estimates
// are advisory and must not pre-commit a multiplier the final fare also applies.
func (c Config) Estimate(distanceKm, durationMin float64) float64 {
	fare := c.BaseFare + distanceKm*c.PerKmRate + durationMin*c.PerMinRate
	if fare < c.MinimumFare {
		fare = c.MinimumFare
	}
	return round2(fare)
}

// Final computes the fare charged at completion. Based only on the actual
// tracked distance, multiplied by the surge captured from the pickup cell,
// then floored at the minimum. Deterministic and auditable.
func (c Config) Final(baseFare, actualDistanceKm, surge float64) float64 {
	fare := (baseFare + actualDistanceKm*c.PerKmRate) * surge
	if fare < c.MinimumFare {
		fare = c.MinimumFare
	}
	return round2(fare)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

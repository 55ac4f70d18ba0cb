package kernel

import (
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/grid"
)

// EstimateTypes estimates the atom count of each channel from density mass.
// Density is additive and non-negative, so the total in a channel divided
// by the mass of one kernel atom of that channel approximates its count.
func EstimateTypes(field, kernel *grid.Field) ([]float64, error) {
	if field.NumChannels() != kernel.NumChannels() {
		return nil, fmt.Errorf("%w: field has %d channels, kernel %d",
			grid.ErrShape, field.NumChannels(), kernel.NumChannels())
	}
	mass := field.ChannelSums()
	atomMass := kernel.ChannelSums()
	est := make([]float64, len(mass))
	for c := range mass {
		if atomMass[c] > 0 {
			est[c] = mass[c] / atomMass[c]
		}
	}
	return est, nil
}

// TypeDiff returns Σ|a−b| over channels. Mismatched lengths yield NaN.
func TypeDiff(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.NaN()
	}
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

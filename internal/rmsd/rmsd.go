package rmsd

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrIncompatible is returned when two structures differ in atom count or
// per-channel histogram, so no label-preserving bijection exists.
var ErrIncompatible = errors.New("incompatible structures")

// MinRMSD returns the minimum RMSD between a and b over all bijections that
// map each atom to an atom of the same channel. Two empty structures are
// at distance zero.
func MinRMSD(a, b atoms.Structure) (float64, error) {
	if a.Len() != b.Len() {
		return math.NaN(), fmt.Errorf("%w: %d atoms vs %d", ErrIncompatible, a.Len(), b.Len())
	}
	if a.Len() == 0 {
		return 0, nil
	}
	ga, gb := byChannel(a), byChannel(b)
	if len(ga) != len(gb) {
		return math.NaN(), fmt.Errorf("%w: channel histograms differ", ErrIncompatible)
	}

	sum := 0.0
	for c, pa := range ga {
		pb := gb[c]
		if len(pa) != len(pb) {
			return math.NaN(), fmt.Errorf("%w: channel %d has %d atoms vs %d",
				ErrIncompatible, c, len(pa), len(pb))
		}
		cost := make([][]float64, len(pa))
		for i, p := range pa {
			cost[i] = make([]float64, len(pb))
			for j, q := range pb {
				cost[i][j] = r3.Norm2(r3.Sub(p, q))
			}
		}
		_, total := Assign(cost)
		sum += total
	}
	return math.Sqrt(sum / float64(a.Len())), nil
}

func byChannel(s atoms.Structure) map[int][]r3.Vec {
	out := make(map[int][]r3.Vec)
	for i := 0; i < s.Len(); i++ {
		out[s.Type(i)] = append(out[s.Type(i)], s.Coord(i))
	}
	return out
}

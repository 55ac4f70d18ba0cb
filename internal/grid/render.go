package grid

import (
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"gonum.org/v1/gonum/spatial/r3"
)

// FinalRadiusMultiple is the cutoff of the atom density function as a
// multiple of the atomic radius. Beyond it an atom contributes nothing.
const FinalRadiusMultiple = 1.5

var (
	invE2 = math.Exp(-2)
	// quadratic tail coefficients, continuous with the gaussian core in
	// value and slope at d = r and reaching zero slope at d = 1.5r
	tailA = 4 * invE2
	tailB = -12 * invE2
	tailC = 9 * invE2
)

// AtomDensity returns the density contributed by an atom of radius r at
// distance d: exp(-2d²/r²) inside r, a quadratic tail to 1.5r, zero beyond.
func AtomDensity(d, r float64) float64 {
	switch {
	case d <= r:
		return math.Exp(-2 * d * d / (r * r))
	case d < FinalRadiusMultiple*r:
		x := d / r
		return tailA*x*x + tailB*x + tailC
	default:
		return 0
	}
}

// AtomDensityDeriv returns dρ/dd for AtomDensity.
func AtomDensityDeriv(d, r float64) float64 {
	switch {
	case d <= r:
		return -4 * d / (r * r) * math.Exp(-2*d*d/(r*r))
	case d < FinalRadiusMultiple*r:
		x := d / r
		return (2*tailA*x + tailB) / r
	default:
		return 0
	}
}

// voxelRange returns the inclusive index range along one axis covering
// [lo, hi] in physical coordinates, clamped to the grid.
func (f *Field) voxelRange(origin, lo, hi float64) (int, int) {
	first := int(math.Ceil((lo - origin) / f.Resolution))
	last := int(math.Floor((hi - origin) / f.Resolution))
	if first < 0 {
		first = 0
	}
	if last > f.N-1 {
		last = f.N - 1
	}
	return first, last
}

// visit calls fn for every voxel of channel c within the density cutoff of
// an atom at pos, with the voxel's flat index, distance and offset pos−voxel.
func (f *Field) visit(c int, pos r3.Vec, fn func(idx int, d float64, off r3.Vec)) {
	r := f.Channels[c].Radius
	cutoff := FinalRadiusMultiple * r
	o := f.Origin()
	i0, i1 := f.voxelRange(o.X, pos.X-cutoff, pos.X+cutoff)
	j0, j1 := f.voxelRange(o.Y, pos.Y-cutoff, pos.Y+cutoff)
	k0, k1 := f.voxelRange(o.Z, pos.Z-cutoff, pos.Z+cutoff)
	cut2 := cutoff * cutoff
	for i := i0; i <= i1; i++ {
		dx := pos.X - (o.X + f.Resolution*float64(i))
		for j := j0; j <= j1; j++ {
			dy := pos.Y - (o.Y + f.Resolution*float64(j))
			row := f.Index(c, i, j, 0)
			for k := k0; k <= k1; k++ {
				dz := pos.Z - (o.Z + f.Resolution*float64(k))
				d2 := dx*dx + dy*dy + dz*dz
				if d2 >= cut2 {
					continue
				}
				fn(row+k, math.Sqrt(d2), r3.Vec{X: dx, Y: dy, Z: dz})
			}
		}
	}
}

// AddAtom adds the density of one atom of channel c at pos into f.
func (f *Field) AddAtom(c int, pos r3.Vec) {
	r := f.Channels[c].Radius
	f.visit(c, pos, func(idx int, d float64, _ r3.Vec) {
		f.Values[idx] += AtomDensity(d, r)
	})
}

// Render returns a new field with like's geometry holding the density of s.
// Atoms whose type is outside the channel set are skipped.
func Render(like *Field, s atoms.Structure) *Field {
	out := like.Like()
	for a := 0; a < s.Len(); a++ {
		c := s.Type(a)
		if c < 0 || c >= len(out.Channels) {
			continue
		}
		out.AddAtom(c, s.Coord(a))
	}
	return out
}

// Gradient returns, for every atom of s, the gradient with respect to its
// coordinate of Σ_v weights[v]·ρ_s(v), where ρ_s is the density rendered
// from s. With weights = −residual this is the gradient of the L2 loss; with
// weights = −sign(residual) it is a subgradient of the L1 loss.
func Gradient(weights *Field, s atoms.Structure) []r3.Vec {
	grads := make([]r3.Vec, s.Len())
	for a := 0; a < s.Len(); a++ {
		c := s.Type(a)
		if c < 0 || c >= len(weights.Channels) {
			continue
		}
		r := weights.Channels[c].Radius
		var g r3.Vec
		weights.visit(c, s.Coord(a), func(idx int, d float64, off r3.Vec) {
			w := weights.Values[idx]
			if w == 0 || d == 0 {
				return
			}
			g = r3.Add(g, r3.Scale(w*AtomDensityDeriv(d, r)/d, off))
		})
		grads[a] = g
	}
	return grads
}

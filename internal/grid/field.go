package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrShape is returned for fields whose values do not match their declared
// channel count and cubic extent, or whose geometry is invalid.
var ErrShape = errors.New("density field shape mismatch")

// Field is a density field over an ordered channel set. Values are laid out
// as [channel][x][y][z] with N voxels along every spatial axis.
type Field struct {
	Values     []float64
	Channels   atoms.ChannelSet
	N          int
	Center     r3.Vec
	Resolution float64
}

// New returns a zero-valued field.
func New(channels atoms.ChannelSet, n int, center r3.Vec, resolution float64) *Field {
	return &Field{
		Values:     make([]float64, len(channels)*n*n*n),
		Channels:   channels,
		N:          n,
		Center:     center,
		Resolution: resolution,
	}
}

// FromValues wraps values in a field and validates its shape. The values
// slice is retained, not copied.
func FromValues(channels atoms.ChannelSet, n int, center r3.Vec, resolution float64, values []float64) (*Field, error) {
	f := &Field{Values: values, Channels: channels, N: n, Center: center, Resolution: resolution}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// VoxelCount returns the number of voxels per axis for a side length.
func VoxelCount(dimension, resolution float64) int {
	return int(math.Round(dimension / resolution))
}

// Validate checks the field geometry and that Values holds exactly
// channels × N³ entries.
func (f *Field) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil field", ErrShape)
	}
	if !(f.Resolution > 0) {
		return fmt.Errorf("%w: resolution must be positive, got %g", ErrShape, f.Resolution)
	}
	if f.N <= 0 {
		return fmt.Errorf("%w: voxel count must be positive, got %d", ErrShape, f.N)
	}
	if len(f.Channels) == 0 {
		return fmt.Errorf("%w: empty channel set", ErrShape)
	}
	want := len(f.Channels) * f.N * f.N * f.N
	if len(f.Values) != want {
		return fmt.Errorf("%w: %d values for %d channels of %d^3 voxels (want %d)",
			ErrShape, len(f.Values), len(f.Channels), f.N, want)
	}
	return nil
}

// NumChannels returns the number of channels.
func (f *Field) NumChannels() int { return len(f.Channels) }

// Dimension returns the physical side length, N × Resolution.
func (f *Field) Dimension() float64 { return float64(f.N) * f.Resolution }

// Origin returns the coordinate of voxel (0,0,0).
func (f *Field) Origin() r3.Vec {
	half := f.Resolution * float64(f.N-1) / 2
	return r3.Sub(f.Center, r3.Vec{X: half, Y: half, Z: half})
}

// Point returns the coordinate of voxel (i,j,k).
func (f *Field) Point(i, j, k int) r3.Vec {
	o := f.Origin()
	return r3.Vec{
		X: o.X + f.Resolution*float64(i),
		Y: o.Y + f.Resolution*float64(j),
		Z: o.Z + f.Resolution*float64(k),
	}
}

// Index returns the flat index of (c,i,j,k).
func (f *Field) Index(c, i, j, k int) int {
	return ((c*f.N+i)*f.N+j)*f.N + k
}

// Unravel converts a flat index into (c,i,j,k).
func (f *Field) Unravel(idx int) (c, i, j, k int) {
	k = idx % f.N
	idx /= f.N
	j = idx % f.N
	idx /= f.N
	i = idx % f.N
	c = idx / f.N
	return c, i, j, k
}

// Channel returns the values of channel c. The slice aliases Values.
func (f *Field) Channel(c int) []float64 {
	size := f.N * f.N * f.N
	return f.Values[c*size : (c+1)*size]
}

// Like returns a zero-valued field with the same geometry.
func (f *Field) Like() *Field {
	return New(f.Channels, f.N, f.Center, f.Resolution)
}

// Detach returns a deep copy that shares no storage with f.
func (f *Field) Detach() *Field {
	if f == nil {
		return nil
	}
	out := *f
	out.Values = make([]float64, len(f.Values))
	copy(out.Values, f.Values)
	out.Channels = make(atoms.ChannelSet, len(f.Channels))
	copy(out.Channels, f.Channels)
	return &out
}

// SameShape reports whether f and g have the same channel count and extent.
func (f *Field) SameShape(g *Field) bool {
	return f.N == g.N && len(f.Channels) == len(g.Channels) && len(f.Values) == len(g.Values)
}

// Sub returns f − g as a new field with f's geometry.
func (f *Field) Sub(g *Field) (*Field, error) {
	if !f.SameShape(g) {
		return nil, fmt.Errorf("%w: cannot subtract %dx%d^3 from %dx%d^3",
			ErrShape, len(g.Channels), g.N, len(f.Channels), f.N)
	}
	out := f.Like()
	floats.SubTo(out.Values, f.Values, g.Values)
	return out, nil
}

// ChannelSums returns the total density in each channel.
func (f *Field) ChannelSums() []float64 {
	sums := make([]float64, len(f.Channels))
	for c := range sums {
		sums[c] = floats.Sum(f.Channel(c))
	}
	return sums
}

// IsZero reports whether every value is exactly zero.
func (f *Field) IsZero() bool {
	for _, v := range f.Values {
		if v != 0 {
			return false
		}
	}
	return true
}

// L2Loss returns half the sum of squared values.
func L2Loss(f *Field) float64 {
	return floats.Dot(f.Values, f.Values) / 2
}

// L1Loss returns the sum of absolute values.
func L1Loss(f *Field) float64 {
	if len(f.Values) == 0 {
		return 0
	}
	return floats.Norm(f.Values, 1)
}

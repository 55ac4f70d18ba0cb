package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrConfig reports a kernel configuration that can never produce a usable
// kernel (empty channel set, non-positive resolution or radius).
var ErrConfig = errors.New("invalid kernel configuration")

// HalfWidthMultiple sets the kernel half-width as a multiple of the largest
// channel radius.
const HalfWidthMultiple = 1.5

// Builder constructs kernels for one channel set and resolution.
type Builder struct {
	channels   atoms.ChannelSet
	resolution float64
}

// NewBuilder validates the detection preconditions once, up front.
func NewBuilder(channels atoms.ChannelSet, resolution float64) (*Builder, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: empty channel set", ErrConfig)
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("%w: resolution must be positive, got %g", ErrConfig, resolution)
	}
	for _, ch := range channels {
		if !(ch.Radius > 0) {
			return nil, fmt.Errorf("%w: channel %q has radius %g", ErrConfig, ch.Name, ch.Radius)
		}
	}
	return &Builder{channels: channels, resolution: resolution}, nil
}

// Extent returns the kernel voxel count per axis and physical dimension for
// a largest radius. The dimension grows by one resolution step when needed
// to make the voxel count odd.
func Extent(maxRadius, resolution float64) (n int, dimension float64) {
	dimension = 2 * HalfWidthMultiple * maxRadius
	n = grid.VoxelCount(dimension, resolution)
	if n%2 == 0 {
		dimension += resolution
		n = grid.VoxelCount(dimension, resolution)
	}
	return n, dimension
}

// Build renders one atom of each channel at the origin.
func (b *Builder) Build() *grid.Field {
	n, _ := Extent(b.channels.MaxRadius(), b.resolution)
	k := grid.New(b.channels, n, r3.Vec{}, b.resolution)
	for c := range b.channels {
		k.AddAtom(c, r3.Vec{})
	}
	return k
}

// BuildDeconvolved returns the kernel passed through a per-channel Wiener
// inverse filter. The result sharpens atom peaks and is meant for
// diagnostic output, not for the fitting loop.
func (b *Builder) BuildDeconvolved(noiseRatio float64) (*grid.Field, error) {
	k := b.Build()
	for c := range k.Channels {
		inv, err := grid.WienerInverse(k.Channel(c), k.N, noiseRatio)
		if err != nil {
			return nil, err
		}
		copy(k.Channel(c), inv)
	}
	return k, nil
}

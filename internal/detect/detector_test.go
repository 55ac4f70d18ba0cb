package detect

import (
	"math"
	"testing"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func testChannels(t *testing.T) atoms.ChannelSet {
	t.Helper()
	cs, err := atoms.NewChannelSet(
		atoms.Channel{Name: "C", Radius: 1.0, Index: 0},
		atoms.Channel{Name: "O", Radius: 1.0, Index: 1},
	)
	require.NoError(t, err)
	return cs
}

// 21 voxels at 0.5 puts voxel centres on multiples of 0.5 around the origin.
func testField(t *testing.T) *grid.Field {
	return grid.New(testChannels(t), 21, r3.Vec{}, 0.5)
}

func noOpt() Config {
	return Config{Threshold: math.Inf(-1), PeakValue: math.Inf(1), MaxAtoms: -1}
}

func TestDetectZeroField(t *testing.T) {
	t.Parallel()
	for _, conv := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.ApplyConv = conv
		cfg.MaxAtoms = -1
		props, err := NewDetector(cfg, kernel.NewCache()).Detect(testField(t), nil)
		require.NoError(t, err)
		assert.Empty(t, props, "apply_conv=%v", conv)
	}
}

func TestDetectSingleAtom(t *testing.T) {
	t.Parallel()
	truth := r3.Vec{X: 0.1, Y: -0.1, Z: 0.05}

	tests := []struct {
		name string
		conv bool
	}{
		{name: "raw", conv: false},
		{name: "convolved", conv: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testField(t)
			f.AddAtom(1, truth)

			cfg := DefaultConfig()
			cfg.ApplyConv = tt.conv
			props, err := NewDetector(cfg, kernel.NewCache()).Detect(f, nil)
			require.NoError(t, err)
			require.Len(t, props, 1)
			assert.Equal(t, 1, props[0].Type)
			assert.Less(t, r3.Norm(r3.Sub(props[0].Coord, truth)), f.Resolution/2)
		})
	}
}

func TestConvolveNormalisesOnVoxelAtom(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.AddAtom(0, r3.Vec{})

	conv, err := NewDetector(DefaultConfig(), kernel.NewCache()).Convolve(f)
	require.NoError(t, err)
	mid := f.N / 2
	assert.InDelta(t, 1.0, conv.Values[conv.Index(0, mid, mid, mid)], 1e-9)
	assert.InDelta(t, 0.0, conv.Values[conv.Index(1, mid, mid, mid)], 1e-9)
}

func TestDetectOrderingAndThreshold(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.Values[f.Index(0, 1, 2, 3)] = 0.5
	f.Values[f.Index(1, 4, 4, 4)] = 0.9
	f.Values[f.Index(0, 5, 5, 5)] = 0.1 // equal to threshold, dropped
	f.Values[f.Index(1, 6, 6, 6)] = 0.5 // ties with (0,1,2,3), later index

	cfg := noOpt()
	cfg.Threshold = 0.1
	props, err := NewDetector(cfg, kernel.NewCache()).Detect(f, nil)
	require.NoError(t, err)
	require.Len(t, props, 3)
	assert.Equal(t, []float64{0.9, 0.5, 0.5}, []float64{props[0].Value, props[1].Value, props[2].Value})
	assert.Equal(t, f.Point(4, 4, 4), props[0].Coord)
	assert.Equal(t, 0, props[1].Type)
	assert.Equal(t, 1, props[2].Type)
}

func TestDetectPeakFold(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.Values[f.Index(0, 3, 3, 3)] = 3.0 // folds to 0
	f.Values[f.Index(0, 9, 9, 9)] = 1.4

	cfg := noOpt()
	cfg.Threshold = 0.1
	cfg.PeakValue = 1.5
	props, err := NewDetector(cfg, kernel.NewCache()).Detect(f, nil)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, f.Point(9, 9, 9), props[0].Coord)
}

func TestDetectTypeBudget(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.AddAtom(0, r3.Vec{X: -2})
	f.Values[f.Index(1, 15, 15, 15)] = 0.5

	cfg := DefaultConfig()
	cfg.ConstrainTypes = true
	d := NewDetector(cfg, kernel.NewCache())

	props, err := d.Detect(f, []float64{0, 1})
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 1, props[0].Type)

	props, err = d.Detect(f, []float64{1, 1})
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 0, props[0].Type)

	_, err = d.Detect(f, []float64{1})
	assert.ErrorIs(t, err, grid.ErrShape)
}

func TestDetectTruncation(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.AddAtom(0, r3.Vec{X: -3})
	f.AddAtom(1, r3.Vec{X: 3})

	for _, tt := range []struct {
		maxAtoms int
		want     int
	}{
		{maxAtoms: 0, want: 0},
		{maxAtoms: 1, want: 1},
		{maxAtoms: 2, want: 2},
	} {
		cfg := DefaultConfig()
		cfg.MaxAtoms = tt.maxAtoms
		props, err := NewDetector(cfg, kernel.NewCache()).Detect(f, nil)
		require.NoError(t, err)
		assert.Len(t, props, tt.want, "max atoms %d", tt.maxAtoms)
	}

	// negative means every voxel above threshold
	cfg := DefaultConfig()
	cfg.MaxAtoms = -1
	props, err := NewDetector(cfg, kernel.NewCache()).Detect(f, nil)
	require.NoError(t, err)
	assert.Greater(t, len(props), 2)
	for _, p := range props {
		assert.Greater(t, p.Value, cfg.Threshold)
	}
}

func TestDetectRejectsBadField(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.Values = f.Values[:len(f.Values)-1]
	_, err := NewDetector(DefaultConfig(), kernel.NewCache()).Detect(f, nil)
	assert.ErrorIs(t, err, grid.ErrShape)
}

func TestSuppressCollapsesSameChannelOnly(t *testing.T) {
	t.Parallel()
	radii := []float64{1.0, 1.0}
	props := []Proposal{
		{Coord: r3.Vec{}, Type: 0, Value: 1.0},
		{Coord: r3.Vec{X: 1.0}, Type: 0, Value: 0.9}, // within 0.6 × 2
		{Coord: r3.Vec{X: 1.0}, Type: 1, Value: 0.8}, // other channel
		{Coord: r3.Vec{X: 3.0}, Type: 0, Value: 0.7}, // far enough
	}

	kept := suppress(props, radii, 0.6, -1)
	require.Len(t, kept, 3)
	assert.Equal(t, props[0], kept[0])
	assert.Equal(t, props[2], kept[1])
	assert.Equal(t, props[3], kept[2])

	kept = suppress(props, radii, 0.6, 2)
	assert.Equal(t, []Proposal{props[0], props[2]}, kept)

	// below the distance scale nothing collapses
	assert.Len(t, suppress(props, radii, 0.4, -1), 4)
}

func TestSuppressChainUsesSuppressedProposals(t *testing.T) {
	t.Parallel()
	radii := []float64{1.0}
	props := []Proposal{
		{Coord: r3.Vec{}, Type: 0, Value: 1.0},
		{Coord: r3.Vec{X: 1.0}, Type: 0, Value: 0.9},
		{Coord: r3.Vec{X: 2.0}, Type: 0, Value: 0.8}, // clear of the first, not the second
	}

	kept := suppress(props, radii, 0.6, -1)
	assert.Equal(t, []Proposal{props[0]}, kept)
}

func TestDetectSuppressionAcrossChannels(t *testing.T) {
	t.Parallel()
	f := testField(t)
	f.AddAtom(0, r3.Vec{})
	f.AddAtom(1, r3.Vec{X: 1})

	cfg := DefaultConfig()
	cfg.MaxAtoms = 2
	cfg.MinDist = 0.6
	props, err := NewDetector(cfg, kernel.NewCache()).Detect(f, nil)
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, 0, props[0].Type)
	assert.Equal(t, r3.Vec{}, props[0].Coord)
	assert.Equal(t, 1, props[1].Type)
	assert.InDelta(t, 1.0, props[1].Coord.X, 1e-12)
}

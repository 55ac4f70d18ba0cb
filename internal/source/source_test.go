package source

import (
	"context"
	"io"
	"testing"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func syntheticConfig(t *testing.T) SyntheticConfig {
	t.Helper()
	cs, err := atoms.SelectChannels("C", "N", "O")
	require.NoError(t, err)
	return SyntheticConfig{
		Channels:      cs,
		N:             24,
		Resolution:    0.5,
		Atoms:         3,
		Items:         2,
		MinSeparation: 2.0,
		Seed:          7,
	}
}

func TestSliceSource(t *testing.T) {
	ctx := context.Background()
	src := NewSlice(Item{Name: "a"}, Item{Name: "b"})

	it, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", it.Name)
	it, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", it.Name)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewSlice(Item{}).Next(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticItems(t *testing.T) {
	cfg := syntheticConfig(t)
	src, err := NewSynthetic(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < cfg.Items; i++ {
		it, err := src.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, it.Field.Validate())
		require.NotNil(t, it.Truth)
		assert.Equal(t, cfg.Atoms, it.Truth.Len())

		sum := 0.0
		for _, c := range it.TrueTypes {
			sum += c
		}
		assert.Equal(t, float64(cfg.Atoms), sum)

		// the field is exactly the rendering of the truth
		again := grid.Render(it.Field, *it.Truth)
		assert.InDeltaSlice(t, again.Values, it.Field.Values, 1e-12)

		for a := 0; a < it.Truth.Len(); a++ {
			for b := a + 1; b < it.Truth.Len(); b++ {
				d := r3.Norm(r3.Sub(it.Truth.Coord(a), it.Truth.Coord(b)))
				assert.GreaterOrEqual(t, d, cfg.MinSeparation)
			}
		}
	}
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSyntheticDeterministic(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Noise = 0.01
	a, err := NewSynthetic(cfg)
	require.NoError(t, err)
	b, err := NewSynthetic(cfg)
	require.NoError(t, err)

	ia, err := a.Next(context.Background())
	require.NoError(t, err)
	ib, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ia.Truth.Coords(), ib.Truth.Coords())
	assert.Equal(t, ia.Field.Values, ib.Field.Values)
}

func TestSyntheticPlacementFailure(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Atoms = 50
	cfg.MinSeparation = 5
	src, err := NewSynthetic(cfg)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrPlacement)
}

func TestSyntheticValidation(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Resolution = 0
	_, err := NewSynthetic(cfg)
	assert.ErrorIs(t, err, grid.ErrShape)

	cfg = syntheticConfig(t)
	cfg.Channels = nil
	_, err = NewSynthetic(cfg)
	assert.Error(t, err)
}

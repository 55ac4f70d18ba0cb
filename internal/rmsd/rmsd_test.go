package rmsd

import (
	"math"
	"testing"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestAssign(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		match, total := Assign(nil)
		assert.Nil(t, match)
		assert.Equal(t, 0.0, total)
	})

	t.Run("single", func(t *testing.T) {
		match, total := Assign([][]float64{{5}})
		assert.Equal(t, []int{0}, match)
		assert.Equal(t, 5.0, total)
	})

	t.Run("square optimal", func(t *testing.T) {
		// Diagonal costs 10; (0,0),(1,2),(2,1) costs 15.
		cost := [][]float64{
			{1, 2, 3},
			{4, 4, 6},
			{9, 8, 5},
		}
		match, total := Assign(cost)
		assert.Equal(t, []int{0, 1, 2}, match)
		assert.InDelta(t, 10.0, total, 1e-12)
	})

	t.Run("anti-diagonal", func(t *testing.T) {
		cost := [][]float64{
			{9, 9, 1},
			{9, 1, 9},
			{1, 9, 9},
		}
		match, total := Assign(cost)
		assert.Equal(t, []int{2, 1, 0}, match)
		assert.InDelta(t, 3.0, total, 1e-12)
	})

	t.Run("more columns than rows", func(t *testing.T) {
		cost := [][]float64{
			{7, 2, 9, 4},
			{3, 8, 1, 6},
		}
		match, total := Assign(cost)
		assert.Equal(t, []int{1, 2}, match)
		assert.InDelta(t, 3.0, total, 1e-12)
	})

	t.Run("more rows than columns", func(t *testing.T) {
		cost := [][]float64{
			{5, 9},
			{1, 8},
			{6, 2},
		}
		match, total := Assign(cost)
		assert.Equal(t, []int{-1, 0, 1}, match)
		assert.InDelta(t, 3.0, total, 1e-12)
	})

	t.Run("no columns", func(t *testing.T) {
		match, total := Assign([][]float64{{}, {}})
		assert.Equal(t, []int{-1, -1}, match)
		assert.Zero(t, total)
	})
}

func TestMinRMSD(t *testing.T) {
	t.Parallel()
	coords := []r3.Vec{{X: 0}, {X: 1}, {Y: 2}, {Z: -1}, {X: 3, Y: 3}}
	types := []int{0, 0, 1, 0, 1}
	a := atoms.MustStructure(coords, types)

	t.Run("identical", func(t *testing.T) {
		got, err := MinRMSD(a, a)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("permutation invariant", func(t *testing.T) {
		perm := []int{3, 4, 0, 2, 1}
		pc := make([]r3.Vec, len(perm))
		pt := make([]int, len(perm))
		for i, p := range perm {
			pc[i], pt[i] = coords[p], types[p]
		}
		got, err := MinRMSD(a, atoms.MustStructure(pc, pt))
		require.NoError(t, err)
		assert.InDelta(t, 0.0, got, 1e-12)
	})

	t.Run("uniform shift", func(t *testing.T) {
		shifted := make([]r3.Vec, len(coords))
		for i, c := range coords {
			shifted[i] = r3.Add(c, r3.Vec{X: 0.1, Y: 0.2, Z: -0.2})
		}
		got, err := MinRMSD(a, atoms.MustStructure(shifted, types))
		require.NoError(t, err)
		assert.InDelta(t, 0.3, got, 1e-12)
	})

	t.Run("channel preserving", func(t *testing.T) {
		// Swapping labels forces each atom onto the far partner.
		x := atoms.MustStructure([]r3.Vec{{}, {X: 4}}, []int{0, 1})
		y := atoms.MustStructure([]r3.Vec{{}, {X: 4}}, []int{1, 0})
		got, err := MinRMSD(x, y)
		require.NoError(t, err)
		assert.InDelta(t, 4.0, got, 1e-12)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := MinRMSD(atoms.Structure{}, atoms.Structure{})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})
}

func TestMinRMSDIncompatible(t *testing.T) {
	t.Parallel()
	a := atoms.MustStructure([]r3.Vec{{}, {X: 1}}, []int{0, 1})

	tests := []struct {
		name string
		b    atoms.Structure
	}{
		{name: "count", b: atoms.MustStructure([]r3.Vec{{}}, []int{0})},
		{name: "histogram", b: atoms.MustStructure([]r3.Vec{{}, {X: 1}}, []int{0, 0})},
		{name: "extra channel", b: atoms.MustStructure([]r3.Vec{{}, {X: 1}}, []int{0, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MinRMSD(a, tt.b)
			assert.ErrorIs(t, err, ErrIncompatible)
			assert.True(t, math.IsNaN(got))
		})
	}
}

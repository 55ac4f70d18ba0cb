package refine

import (
	"fmt"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
	"gonum.org/v1/gonum/floats"
)

// LossKind selects the elementwise residual loss.
type LossKind int

const (
	// L2 is Σ residual² / 2.
	L2 LossKind = iota
	// L1 is Σ |residual|.
	L1
)

func (k LossKind) String() string {
	switch k {
	case L2:
		return "L2"
	case L1:
		return "L1"
	default:
		return fmt.Sprintf("LossKind(%d)", int(k))
	}
}

// Loss evaluates kind on a residual field.
func Loss(kind LossKind, residual *grid.Field) float64 {
	if kind == L1 {
		return grid.L1Loss(residual)
	}
	return grid.L2Loss(residual)
}

// Outcome is the state after refinement: the moved structure, its rendered
// density, target − density, and the loss of that residual.
type Outcome struct {
	Structure atoms.Structure
	Density   *grid.Field
	Residual  *grid.Field
	Loss      float64
}

// Refiner runs a fixed number of Adam steps on atom coordinates.
type Refiner struct {
	Loss LossKind
	Adam Adam
}

// New returns a refiner with the default optimiser settings.
func New(kind LossKind) Refiner {
	return Refiner{Loss: kind, Adam: DefaultAdam()}
}

// Evaluate renders s against target without moving any atom.
func (r Refiner) Evaluate(target *grid.Field, s atoms.Structure) Outcome {
	density := grid.Render(target, s)
	residual := target.Like()
	floats.SubTo(residual.Values, target.Values, density.Values)
	return Outcome{
		Structure: s,
		Density:   density,
		Residual:  residual,
		Loss:      Loss(r.Loss, residual),
	}
}

// Refine runs exactly iters optimiser steps and renders the result once
// more. There is no convergence test. target must already be validated.
func (r Refiner) Refine(target *grid.Field, s atoms.Structure, iters int) Outcome {
	if s.Len() == 0 || iters <= 0 {
		return r.Evaluate(target, s)
	}
	coords := s.Coords()
	opt := newAdamState(r.Adam, len(coords))
	weights := target.Like()
	for it := 0; it < iters; it++ {
		cur, _ := s.WithCoords(coords)
		out := r.Evaluate(target, cur)
		r.lossWeights(weights, out.Residual)
		opt.step(coords, grid.Gradient(weights, cur))
	}
	final, _ := s.WithCoords(coords)
	return r.Evaluate(target, final)
}

// lossWeights writes ∂loss/∂density into dst: −residual for L2 and
// −sign(residual) for L1.
func (r Refiner) lossWeights(dst, residual *grid.Field) {
	if r.Loss == L1 {
		for i, v := range residual.Values {
			switch {
			case v > 0:
				dst.Values[i] = -1
			case v < 0:
				dst.Values[i] = 1
			default:
				dst.Values[i] = 0
			}
		}
		return
	}
	for i, v := range residual.Values {
		dst.Values[i] = -v
	}
}

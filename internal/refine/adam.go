package refine

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Adam holds adaptive-moment optimiser hyperparameters. Weight decay is
// added to the gradient before the moment updates (L2-coupled).
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// DefaultAdam returns lr 0.1, betas (0.9, 0.999), eps 1e-8, no decay.
func DefaultAdam() Adam {
	return Adam{LR: 0.1, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

type adamState struct {
	cfg  Adam
	m, v []r3.Vec
	t    int
}

func newAdamState(cfg Adam, n int) *adamState {
	return &adamState{cfg: cfg, m: make([]r3.Vec, n), v: make([]r3.Vec, n)}
}

// step updates x in place from gradient g.
func (a *adamState) step(x, g []r3.Vec) {
	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	bc1 := 1 - math.Pow(b1, float64(a.t))
	bc2 := 1 - math.Pow(b2, float64(a.t))
	stepSize := a.cfg.LR / bc1
	sqrtBC2 := math.Sqrt(bc2)

	update := func(x, g float64, m, v *float64) float64 {
		if a.cfg.WeightDecay != 0 {
			g += a.cfg.WeightDecay * x
		}
		*m = b1**m + (1-b1)*g
		*v = b2**v + (1-b2)*g*g
		denom := math.Sqrt(*v)/sqrtBC2 + a.cfg.Eps
		return x - stepSize**m/denom
	}
	for i := range x {
		x[i].X = update(x[i].X, g[i].X, &a.m[i].X, &a.v[i].X)
		x[i].Y = update(x[i].Y, g[i].Y, &a.m[i].Y, &a.v[i].Y)
		x[i].Z = update(x[i].Z, g[i].Z, &a.m[i].Z, &a.v[i].Z)
	}
}

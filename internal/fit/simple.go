package fit

import (
	"context"
	"fmt"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/detect"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/refine"
	"gonum.org/v1/gonum/spatial/r3"
)

// SimpleFitter grows a single structure greedily: add the strongest atom
// in the residual, refine, and keep going while the loss still drops by
// more than SimpleTol relative to the previous step.
type SimpleFitter struct {
	opts     Options
	detector *detect.Detector
	refiner  refine.Refiner
}

// NewSimpleFitter validates opts and returns a greedy fitter. Only the
// first detection proposal is ever used.
func NewSimpleFitter(opts Options) (*SimpleFitter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	det := opts.Detect
	det.MaxAtoms = 1
	return &SimpleFitter{
		opts:     opts,
		detector: detect.NewDetector(det, opts.Kernels),
		refiner:  refine.Refiner{Loss: opts.Loss, Adam: opts.Adam},
	}, nil
}

// Fit runs the greedy loop. ctx is checked before each added atom.
func (f *SimpleFitter) Fit(ctx context.Context, field *grid.Field, types []float64) (*Result, error) {
	p, err := newProblem(f.opts, f.detector, f.refiner, field, types)
	if err != nil {
		return nil, err
	}
	cur, err := p.candidate(0, f.refiner.Evaluate(field, atoms.Structure{}))
	if err != nil {
		return nil, err
	}
	p.visit(cur.Objective, cur.ID, cur.Structure)
	p.trace = append(p.trace, cur.Objective)

	attempts, accepted := 0, 0
	for cur.Structure.Len() < f.opts.MaxAtoms && len(cur.Frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simple fit interrupted at %d atoms: %w", cur.Structure.Len(), err)
		}
		prop := cur.Frontier[0]
		grown, err := cur.Structure.Append([]r3.Vec{prop.Coord}, []int{prop.Type})
		if err != nil {
			return nil, err
		}
		out := f.refiner.Refine(field, grown, f.opts.SimpleIters)
		obj := p.objective(out.Structure, out.Loss)
		attempts++
		p.visit(obj, cur.ID, out.Structure)

		prev := cur.Objective.FitLoss
		if !(prev > 0) || (prev-out.Loss)/prev <= f.opts.SimpleTol {
			monitoring.Debugf(2, "fit: simple step to %d atoms gained too little (%g -> %g)",
				out.Structure.Len(), prev, out.Loss)
			break
		}
		next, err := p.candidate(cur.ID+1, out)
		if err != nil {
			return nil, err
		}
		cur = next
		accepted++
		p.trace = append(p.trace, cur.Objective)
		monitoring.Debugf(1, "fit: simple step %d atoms, objective %s", cur.Structure.Len(), cur.Objective)
	}
	return p.finish(cur, attempts, accepted), nil
}

package fit

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/detect"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/refine"
)

// problem is the per-call state shared by both strategies.
type problem struct {
	opts        Options
	field       *grid.Field
	types       []float64
	estTypeDiff float64
	detector    *detect.Detector
	refiner     refine.Refiner
	start       time.Time
	visited     []VisitedEntry
	trace       []Objective
}

func newProblem(opts Options, detector *detect.Detector, refiner refine.Refiner, field *grid.Field, types []float64) (*problem, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if types != nil && len(types) != field.NumChannels() {
		return nil, fmt.Errorf("%w: %d type counts for %d channels", grid.ErrShape, len(types), field.NumChannels())
	}
	p := &problem{
		opts:        opts,
		field:       field,
		types:       append([]float64(nil), types...),
		estTypeDiff: math.NaN(),
		detector:    detector,
		refiner:     refiner,
		start:       opts.Clock.Now(),
	}

	// Resolve the kernel up front so configuration errors surface before
	// any search work.
	needKernel := opts.Detect.ApplyConv || opts.EstimateTypes || types == nil
	if !needKernel {
		return p, nil
	}
	k, err := opts.Kernels.Get(field.Channels, field.Resolution)
	if err != nil {
		return nil, err
	}
	if opts.EstimateTypes || types == nil {
		est, err := kernel.EstimateTypes(field, k)
		if err != nil {
			return nil, err
		}
		if types != nil {
			p.estTypeDiff = kernel.TypeDiff(types, est)
		}
		p.types = est
	}
	return p, nil
}

func (p *problem) elapsed() time.Duration {
	return p.opts.Clock.Since(p.start)
}

// typeDiff returns the remaining expected atoms per channel for s.
func (p *problem) typeDiff(s atoms.Structure) []float64 {
	counts := s.TypeCounts(len(p.types))
	diff := make([]float64, len(p.types))
	for c := range diff {
		diff[c] = p.types[c] - counts[c]
	}
	return diff
}

func (p *problem) objective(s atoms.Structure, fitLoss float64) Objective {
	typeLoss := 0.0
	for _, d := range p.typeDiff(s) {
		typeLoss += math.Abs(d)
	}
	return Objective{
		TypeLoss:    typeLoss,
		FitLoss:     fitLoss,
		Constrained: p.opts.Detect.ConstrainTypes,
	}
}

// candidate scores a refined structure and computes its frontier from its
// own residual.
func (p *problem) candidate(id int, out refine.Outcome) (Candidate, error) {
	frontier, err := p.detector.Detect(out.Residual, p.typeDiff(out.Structure))
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Objective: p.objective(out.Structure, out.Loss),
		ID:        id,
		Structure: out.Structure,
		Frontier:  frontier,
	}, nil
}

func (p *problem) visit(obj Objective, parentID int, s atoms.Structure) {
	p.visited = append(p.visited, VisitedEntry{
		Objective: obj,
		ParentID:  parentID,
		Elapsed:   p.elapsed(),
		Structure: s,
	})
}

// finish polishes best with the final refinement budget and assembles the
// result.
func (p *problem) finish(best Candidate, expanded, accepted int) *Result {
	out := p.refiner.Refine(p.field, best.Structure, p.opts.FinalIters)
	obj := p.objective(out.Structure, out.Loss)
	p.visit(obj, best.ID+1, out.Structure)

	res := &Result{
		Structure: out.Structure,
		Density:   out.Density,
		Visited:   p.visited,
		BestTrace: p.trace,
		Diagnostics: Diagnostics{
			L1Loss:      grid.L1Loss(out.Residual),
			L2Loss:      grid.L2Loss(out.Residual),
			TypeDiff:    obj.TypeLoss,
			EstTypeDiff: p.estTypeDiff,
			NAtoms:      out.Structure.Len(),
			Elapsed:     p.elapsed(),
			Expanded:    expanded,
			Accepted:    accepted,
		},
	}
	monitoring.Debugf(1, "fit: done, %d atoms, L2 %.6g, L1 %.6g, %d expanded, %d accepted in %v",
		res.Diagnostics.NAtoms, res.Diagnostics.L2Loss, res.Diagnostics.L1Loss,
		expanded, accepted, res.Diagnostics.Elapsed)
	return res
}

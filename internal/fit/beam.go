package fit

import (
	"context"
	"fmt"
	"slices"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/detect"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/refine"
	"gonum.org/v1/gonum/spatial/r3"
)

// BeamFitter grows structures one search pass at a time, keeping the
// BeamSize best partial structures between passes.
type BeamFitter struct {
	opts     Options
	detector *detect.Detector
	refiner  refine.Refiner
}

// NewBeamFitter validates opts and returns a beam search fitter.
func NewBeamFitter(opts Options) (*BeamFitter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &BeamFitter{
		opts:     opts,
		detector: detect.NewDetector(opts.Detect, opts.Kernels),
		refiner:  refine.Refiner{Loss: opts.Loss, Adam: opts.Adam},
	}, nil
}

// beam is the search state of one Fit call.
type beam struct {
	*problem
	pool     []Candidate
	nextID   int
	expanded map[int]bool
	attempts int
	accepted int
}

// Fit runs the beam search. ctx is checked between passes only; a pass in
// progress always completes.
func (f *BeamFitter) Fit(ctx context.Context, field *grid.Field, types []float64) (*Result, error) {
	p, err := newProblem(f.opts, f.detector, f.refiner, field, types)
	if err != nil {
		return nil, err
	}
	b := &beam{problem: p, expanded: make(map[int]bool)}

	root, err := p.candidate(0, f.refiner.Evaluate(field, atoms.Structure{}))
	if err != nil {
		return nil, err
	}
	b.pool = []Candidate{root}
	b.nextID = 1
	p.visit(root.Objective, root.ID, root.Structure)
	p.trace = append(p.trace, root.Objective)

	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("beam search interrupted after %d passes: %w", pass-1, err)
		}
		found, err := b.pass()
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			break
		}
		b.merge(found)
		best := b.pool[0]
		p.trace = append(p.trace, best.Objective)
		monitoring.Debugf(1, "fit: pass %d best struct %d objective %s, %d atoms",
			pass, best.ID, best.Objective, best.Structure.Len())
		if best.Structure.Len() >= f.opts.MaxAtoms {
			monitoring.Debugf(1, "fit: best struct reached %d atoms, stopping", best.Structure.Len())
			break
		}
	}
	return p.finish(b.pool[0], b.attempts, b.accepted), nil
}

// pass expands every pool candidate not expanded before and returns the
// accepted children.
func (b *beam) pass() ([]Candidate, error) {
	var found []Candidate
	// The pool is fixed for the whole pass; children are merged afterwards.
	for _, cand := range b.pool {
		if b.expanded[cand.ID] {
			continue
		}
		single := true
		if b.opts.MultiAtom && len(cand.Frontier) > 0 {
			child, ok, err := b.expand(cand, cand.Frontier)
			if err != nil {
				return nil, err
			}
			if ok {
				found = append(found, child)
				single = false
			}
		}
		if single {
			for _, prop := range cand.Frontier {
				child, ok, err := b.expand(cand, []detect.Proposal{prop})
				if err != nil {
					return nil, err
				}
				if ok {
					found = append(found, child)
				}
			}
		}
		b.expanded[cand.ID] = true
	}
	return found, nil
}

// expand appends props to the parent structure, refines and scores it.
// The attempt is always logged; it is accepted when it is strictly better
// than at least one current pool member.
func (b *beam) expand(parent Candidate, props []detect.Proposal) (Candidate, bool, error) {
	coords := make([]r3.Vec, len(props))
	types := make([]int, len(props))
	for i, pr := range props {
		coords[i], types[i] = pr.Coord, pr.Type
	}
	grown, err := parent.Structure.Append(coords, types)
	if err != nil {
		return Candidate{}, false, err
	}
	out := b.refiner.Refine(b.field, grown, b.opts.IntermIters)
	obj := b.objective(out.Structure, out.Loss)
	b.attempts++
	b.visit(obj, parent.ID, out.Structure)

	if !b.beatsPoolMember(obj) {
		monitoring.Debugf(2, "fit: struct %d + %d atoms rejected, objective %s", parent.ID, len(props), obj)
		return Candidate{}, false, nil
	}
	child, err := b.candidate(b.nextID, out)
	if err != nil {
		return Candidate{}, false, err
	}
	b.nextID++
	b.accepted++
	monitoring.Debugf(2, "fit: found new best struct %d from %d, objective %s", child.ID, parent.ID, obj)
	return child, true, nil
}

func (b *beam) beatsPoolMember(obj Objective) bool {
	for _, c := range b.pool {
		if obj.Less(c.Objective) {
			return true
		}
	}
	return false
}

// merge adds found to the pool, orders by objective then id and keeps the
// best BeamSize.
func (b *beam) merge(found []Candidate) {
	b.pool = append(b.pool, found...)
	slices.SortStableFunc(b.pool, func(x, y Candidate) int {
		if c := x.Objective.Compare(y.Objective); c != 0 {
			return c
		}
		return x.ID - y.ID
	})
	if len(b.pool) > b.opts.BeamSize {
		b.pool = b.pool[:b.opts.BeamSize]
	}
}

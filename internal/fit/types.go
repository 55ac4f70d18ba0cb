package fit

import (
	"fmt"
	"time"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/detect"
	"github.com/banshee-data/atomfit/internal/grid"
)

// Objective scores a structure; lower is better. When Constrained the
// per-channel type mismatch is compared first and fit loss breaks ties,
// otherwise only FitLoss is compared.
type Objective struct {
	TypeLoss    float64 `json:"type_loss"`
	FitLoss     float64 `json:"fit_loss"`
	Constrained bool    `json:"constrained"`
}

// Less reports whether o is strictly better than p.
func (o Objective) Less(p Objective) bool {
	if o.Constrained {
		if o.TypeLoss != p.TypeLoss {
			return o.TypeLoss < p.TypeLoss
		}
	}
	return o.FitLoss < p.FitLoss
}

// Compare orders objectives for sorting: -1, 0 or +1.
func (o Objective) Compare(p Objective) int {
	switch {
	case o.Less(p):
		return -1
	case p.Less(o):
		return 1
	default:
		return 0
	}
}

func (o Objective) String() string {
	if o.Constrained {
		return fmt.Sprintf("(%g, %g)", o.TypeLoss, o.FitLoss)
	}
	return fmt.Sprintf("%g", o.FitLoss)
}

// Candidate is a node of the search: a structure, its score and the ranked
// proposals for the next atom computed from its own residual.
type Candidate struct {
	Objective Objective
	ID        int
	Structure atoms.Structure
	Frontier  []detect.Proposal
}

// VisitedEntry records one evaluated structure. ParentID is the candidate
// that was expanded to produce it.
type VisitedEntry struct {
	Objective Objective       `json:"objective"`
	ParentID  int             `json:"parent_id"`
	Elapsed   time.Duration   `json:"elapsed"`
	Structure atoms.Structure `json:"structure"`
}

// Diagnostics are the scalar outcomes of one fit. EstTypeDiff is NaN
// unless types were estimated and true counts were supplied.
type Diagnostics struct {
	L1Loss      float64       `json:"l1_loss"`
	L2Loss      float64       `json:"l2_loss"`
	TypeDiff    float64       `json:"type_diff"`
	EstTypeDiff float64       `json:"est_type_diff"`
	NAtoms      int           `json:"n_atoms"`
	Elapsed     time.Duration `json:"elapsed"`
	Expanded    int           `json:"expanded"`
	Accepted    int           `json:"accepted"`
}

// Result is the output of Fit: the best structure, its rendered density,
// every visited structure in evaluation order (the last entry is the
// final polished structure), the best objective after each accepting pass,
// and diagnostics.
type Result struct {
	Structure   atoms.Structure
	Density     *grid.Field
	Visited     []VisitedEntry
	BestTrace   []Objective
	Diagnostics Diagnostics
}

// Detach returns a deep copy of r sharing no storage with it.
func (r *Result) Detach() *Result {
	if r == nil {
		return nil
	}
	out := &Result{
		Structure:   r.Structure.Detach(),
		Density:     r.Density.Detach(),
		Visited:     make([]VisitedEntry, len(r.Visited)),
		BestTrace:   append([]Objective(nil), r.BestTrace...),
		Diagnostics: r.Diagnostics,
	}
	for i, v := range r.Visited {
		v.Structure = v.Structure.Detach()
		out.Visited[i] = v
	}
	return out
}

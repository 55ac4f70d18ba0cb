package report

import (
	"math"
	"time"

	"github.com/banshee-data/atomfit/internal/fit"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// VisitedStats summarises a search history. Loss fields are NaN for an
// empty history; StdFitLoss is NaN with fewer than two entries.
type VisitedStats struct {
	Count       int
	MinFitLoss  float64
	MaxFitLoss  float64
	MeanFitLoss float64
	StdFitLoss  float64
	MaxAtoms    int
	Span        time.Duration
}

// Stats computes VisitedStats over visited.
func Stats(visited []fit.VisitedEntry) VisitedStats {
	st := VisitedStats{
		Count:       len(visited),
		MinFitLoss:  math.NaN(),
		MaxFitLoss:  math.NaN(),
		MeanFitLoss: math.NaN(),
		StdFitLoss:  math.NaN(),
	}
	if len(visited) == 0 {
		return st
	}
	losses := make([]float64, len(visited))
	for i, v := range visited {
		losses[i] = v.Objective.FitLoss
		if n := v.Structure.Len(); n > st.MaxAtoms {
			st.MaxAtoms = n
		}
		if v.Elapsed > st.Span {
			st.Span = v.Elapsed
		}
	}
	st.MinFitLoss = floats.Min(losses)
	st.MaxFitLoss = floats.Max(losses)
	if len(losses) == 1 {
		st.MeanFitLoss = losses[0]
		return st
	}
	st.MeanFitLoss, st.StdFitLoss = stat.MeanStdDev(losses, nil)
	return st
}

// runningBest returns, for each visited entry, the lowest fit loss seen
// up to and including it.
func runningBest(visited []fit.VisitedEntry) []float64 {
	out := make([]float64, len(visited))
	best := math.Inf(1)
	for i, v := range visited {
		best = math.Min(best, v.Objective.FitLoss)
		out[i] = best
	}
	return out
}

package detect

import (
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Config controls atom detection. Each optional step has an explicit
// "off" value so that a zero Config is usable.
type Config struct {
	// ApplyConv correlates the field with the atom kernel first, normalised
	// so that values above 0.5 mark voxels where an atom lowers L2 loss.
	ApplyConv bool
	// Threshold drops proposals whose value is not strictly greater.
	// NaN or -Inf disables it.
	Threshold float64
	// PeakValue folds values above it back down: peak − |peak − v|.
	// NaN or +Inf disables it.
	PeakValue float64
	// MinDist suppresses a proposal lying within MinDist × (ra + rb) of any
	// higher-ranked proposal of the same channel, suppressed or not. Zero or
	// less disables it.
	MinDist float64
	// MaxAtoms truncates the result. Negative means no limit.
	MaxAtoms int
	// ConstrainTypes drops channels with no remaining type budget.
	ConstrainTypes bool
}

// DefaultConfig returns the detection settings used by the fitter when no
// configuration file overrides them.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.1,
		PeakValue: 1.5,
		MaxAtoms:  1,
	}
}

func (c Config) thresholdOn() bool {
	return !math.IsNaN(c.Threshold) && !math.IsInf(c.Threshold, -1)
}

func (c Config) peakOn() bool {
	return !math.IsNaN(c.PeakValue) && !math.IsInf(c.PeakValue, 1)
}

func (c Config) suppressOn() bool {
	return c.MinDist > 0 && c.MaxAtoms != 0 && c.MaxAtoms != 1
}

// Proposal is one candidate next atom, ranked by Value.
type Proposal struct {
	Coord r3.Vec
	Type  int
	Value float64
}

// Detector finds atom proposals in density fields. It holds no per-call
// state and may be shared by goroutines that share its kernel cache.
type Detector struct {
	cfg     Config
	kernels *kernel.Cache
}

// NewDetector returns a detector using kernels from cache, or from the
// process-wide cache when cache is nil.
func NewDetector(cfg Config, cache *kernel.Cache) *Detector {
	if cache == nil {
		cache = kernel.Shared()
	}
	return &Detector{cfg: cfg, kernels: cache}
}

// Config returns the detector settings.
func (d *Detector) Config() Config { return d.cfg }

// Convolve returns field correlated per channel with the atom kernel and
// divided by the kernel's squared L2 norm in that channel. An atom sitting
// exactly on a voxel, fully inside the field, scores 1 there.
func (d *Detector) Convolve(field *grid.Field) (*grid.Field, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	k, err := d.kernels.Get(field.Channels, field.Resolution)
	if err != nil {
		return nil, err
	}
	out := field.Like()
	for c := range field.Channels {
		kc := k.Channel(c)
		conv, err := grid.Correlate3(field.Channel(c), field.N, kc, k.N)
		if err != nil {
			return nil, err
		}
		norm2 := floats.Dot(kc, kc)
		if norm2 > 0 {
			floats.Scale(1/norm2, conv)
		}
		copy(out.Channel(c), conv)
	}
	return out, nil
}

type ranked struct {
	idx   int
	value float64
}

// Detect returns proposals for field in priority order. budget holds the
// remaining expected atom count per channel and is only consulted when
// ConstrainTypes is set.
//
// The budget filter only removes channels whose budget is already at or
// below zero. A single call can still return more atoms of a channel than
// its budget allows when MaxAtoms > 1 or budgets are fractional.
func (d *Detector) Detect(field *grid.Field, budget []float64) ([]Proposal, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if d.cfg.ConstrainTypes && len(budget) != field.NumChannels() {
		return nil, fmt.Errorf("%w: type budget has %d entries for %d channels",
			grid.ErrShape, len(budget), field.NumChannels())
	}
	if d.cfg.MaxAtoms == 0 {
		return nil, nil
	}

	values := field.Values
	if d.cfg.ApplyConv {
		conv, err := d.Convolve(field)
		if err != nil {
			return nil, err
		}
		values = conv.Values
	}

	// Thresholding commutes with sorting, so filter first and sort only
	// the survivors.
	entries := make([]ranked, 0, 64)
	for idx, v := range values {
		if d.cfg.peakOn() {
			v = d.cfg.PeakValue - math.Abs(d.cfg.PeakValue-v)
		}
		if d.cfg.thresholdOn() && !(v > d.cfg.Threshold) {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		entries = append(entries, ranked{idx: idx, value: v})
	}
	slices.SortFunc(entries, func(a, b ranked) int {
		switch {
		case a.value > b.value:
			return -1
		case a.value < b.value:
			return 1
		default:
			return a.idx - b.idx
		}
	})

	props := make([]Proposal, 0, min(len(entries), max(d.cfg.MaxAtoms, 0)))
	for _, e := range entries {
		c, i, j, k := field.Unravel(e.idx)
		if d.cfg.ConstrainTypes && budget[c] <= 0 {
			continue
		}
		props = append(props, Proposal{Coord: field.Point(i, j, k), Type: c, Value: e.value})
		if !d.cfg.suppressOn() && d.cfg.MaxAtoms > 0 && len(props) == d.cfg.MaxAtoms {
			break
		}
	}

	if d.cfg.suppressOn() {
		props = suppress(props, field.Channels.Radii(), d.cfg.MinDist, d.cfg.MaxAtoms)
	}
	if d.cfg.MaxAtoms >= 0 && len(props) > d.cfg.MaxAtoms {
		props = props[:d.cfg.MaxAtoms]
	}
	return props, nil
}

// suppress drops a proposal when any earlier proposal of the same channel,
// kept or not, lies within minDist × (ra + rb). props must be in priority
// order. It stops once limit proposals are kept; a negative limit keeps
// going.
func suppress(props []Proposal, radii []float64, minDist float64, limit int) []Proposal {
	kept := make([]Proposal, 0, len(props))
	earlier := make(map[int][]r3.Vec)
	for _, p := range props {
		bond := minDist * 2 * radii[p.Type]
		tooClose := false
		for _, q := range earlier[p.Type] {
			if r3.Norm2(r3.Sub(p.Coord, q)) < bond*bond {
				tooClose = true
				break
			}
		}
		earlier[p.Type] = append(earlier[p.Type], p.Coord)
		if tooClose {
			continue
		}
		kept = append(kept, p)
		if limit >= 0 && len(kept) == limit {
			break
		}
	}
	return kept
}

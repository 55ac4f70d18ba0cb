package fit

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/config"
	"github.com/banshee-data/atomfit/internal/detect"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/banshee-data/atomfit/internal/refine"
	"github.com/banshee-data/atomfit/internal/timeutil"
)

// MaxStructureAtoms stops the search once the best structure reaches this
// many atoms.
const MaxStructureAtoms = 50

// Fitter fits a structure to a density field. types holds the expected
// atom count per channel, or nil when unknown.
type Fitter interface {
	Fit(ctx context.Context, field *grid.Field, types []float64) (*Result, error)
}

// Finalizer turns a fitted point set into a final structure (bond
// inference, validity repair). It runs outside the fitting core.
type Finalizer interface {
	Finalize(s atoms.Structure, channels atoms.ChannelSet) (atoms.Structure, error)
}

// NopFinalizer returns structures unchanged.
type NopFinalizer struct{}

// Finalize returns s.
func (NopFinalizer) Finalize(s atoms.Structure, _ atoms.ChannelSet) (atoms.Structure, error) {
	return s, nil
}

// Options configures both fitting strategies.
type Options struct {
	BeamSize      int
	MultiAtom     bool
	Detect        detect.Config
	EstimateTypes bool
	Loss          refine.LossKind
	Adam          refine.Adam
	IntermIters   int
	FinalIters    int
	MaxAtoms      int // structure size cap, MaxStructureAtoms when zero

	// SimpleFitter only.
	SimpleIters int
	SimpleTol   float64

	Kernels *kernel.Cache  // kernel.Shared() when nil
	Clock   timeutil.Clock // RealClock when nil
}

// DefaultOptions mirrors config.EmptyFitConfig().
func DefaultOptions() Options {
	return OptionsFromConfig(config.EmptyFitConfig())
}

// OptionsFromConfig converts a FitConfig into Options.
func OptionsFromConfig(cfg *config.FitConfig) Options {
	det := detect.Config{
		ApplyConv:      cfg.GetApplyConv(),
		Threshold:      math.Inf(-1),
		PeakValue:      math.Inf(1),
		MinDist:        cfg.GetMinDist(),
		MaxAtoms:       cfg.GetNAtomsDetect(),
		ConstrainTypes: cfg.GetConstrainTypes(),
	}
	if th, ok := cfg.GetThreshold(); ok {
		det.Threshold = th
	}
	if pv, ok := cfg.GetPeakValue(); ok {
		det.PeakValue = pv
	}
	loss := refine.L2
	if cfg.GetFitL1Loss() {
		loss = refine.L1
	}
	return Options{
		BeamSize:      cfg.GetBeamSize(),
		MultiAtom:     cfg.GetMultiAtom(),
		Detect:        det,
		EstimateTypes: cfg.GetEstimateTypes(),
		Loss:          loss,
		Adam: refine.Adam{
			LR:          cfg.GetLearningRate(),
			Beta1:       cfg.GetBeta1(),
			Beta2:       cfg.GetBeta2(),
			Eps:         refine.DefaultAdam().Eps,
			WeightDecay: cfg.GetWeightDecay(),
		},
		IntermIters: cfg.GetIntermGDIters(),
		FinalIters:  cfg.GetFinalGDIters(),
		SimpleIters: cfg.GetSimpleIters(),
		SimpleTol:   cfg.GetSimpleTol(),
	}
}

func (o Options) validate() error {
	if o.BeamSize < 1 {
		return fmt.Errorf("beam size must be at least 1, got %d", o.BeamSize)
	}
	if o.IntermIters < 0 || o.FinalIters < 0 || o.SimpleIters < 0 {
		return fmt.Errorf("iteration counts must be non-negative")
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Kernels == nil {
		o.Kernels = kernel.Shared()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.MaxAtoms <= 0 {
		o.MaxAtoms = MaxStructureAtoms
	}
	return o
}

// New builds the fitter selected by cfg.Strategy.
func New(cfg *config.FitConfig, kernels *kernel.Cache) (Fitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := OptionsFromConfig(cfg)
	opts.Kernels = kernels
	switch cfg.GetStrategy() {
	case config.StrategySimple:
		return NewSimpleFitter(opts)
	default:
		return NewBeamFitter(opts)
	}
}

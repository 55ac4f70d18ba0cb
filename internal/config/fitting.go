package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical fitting defaults file.
const DefaultConfigPath = "config/fit.defaults.json"

// Strategy names accepted by FitConfig.Strategy.
const (
	StrategyBeam   = "beam"
	StrategySimple = "simple"
)

// FitConfig is the fitting-time parameter set. Every field is optional;
// the Get* accessors supply the default for omitted fields, so partial
// files are safe.
type FitConfig struct {
	// Search
	Strategy  *string `json:"strategy,omitempty"` // "beam" or "simple"
	BeamSize  *int    `json:"beam_size,omitempty"`
	MultiAtom *bool   `json:"multi_atom,omitempty"`

	// Detection
	NAtomsDetect *int     `json:"n_atoms_detect,omitempty"` // negative: no limit
	ApplyConv    *bool    `json:"apply_conv,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	NoThreshold  *bool    `json:"no_threshold,omitempty"`
	PeakValue    *float64 `json:"peak_value,omitempty"`
	NoPeakFold   *bool    `json:"no_peak_fold,omitempty"`
	MinDist      *float64 `json:"min_dist,omitempty"`

	// Type handling
	ConstrainTypes *bool `json:"constrain_types,omitempty"`
	EstimateTypes  *bool `json:"estimate_types,omitempty"`

	// Refinement
	FitL1Loss     *bool    `json:"fit_l1_loss,omitempty"`
	IntermGDIters *int     `json:"interm_gd_iters,omitempty"`
	FinalGDIters  *int     `json:"final_gd_iters,omitempty"`
	LearningRate  *float64 `json:"learning_rate,omitempty"`
	Beta1         *float64 `json:"beta1,omitempty"`
	Beta2         *float64 `json:"beta2,omitempty"`
	WeightDecay   *float64 `json:"weight_decay,omitempty"`

	// Simple strategy
	SimpleIters *int     `json:"simple_iters,omitempty"`
	SimpleTol   *float64 `json:"simple_tol,omitempty"`

	// Worker pool
	Workers   *int `json:"workers,omitempty"`
	QueueSize *int `json:"queue_size,omitempty"`

	// Diagnostics
	OutputKernel *bool `json:"output_kernel,omitempty"` // conv and deconv kernel, once per channel set
	OutputConv   *bool `json:"output_conv,omitempty"`   // convolved detection field per item
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyFitConfig returns a FitConfig with all fields unset.
func EmptyFitConfig() *FitConfig {
	return &FitConfig{}
}

// DefaultFitConfig returns a FitConfig with every field set to its default.
func DefaultFitConfig() *FitConfig {
	c := EmptyFitConfig()
	return &FitConfig{
		Strategy:       ptrString(c.GetStrategy()),
		BeamSize:       ptrInt(c.GetBeamSize()),
		MultiAtom:      ptrBool(c.GetMultiAtom()),
		NAtomsDetect:   ptrInt(c.GetNAtomsDetect()),
		ApplyConv:      ptrBool(c.GetApplyConv()),
		Threshold:      ptrFloat64(0.1),
		NoThreshold:    ptrBool(false),
		PeakValue:      ptrFloat64(1.5),
		NoPeakFold:     ptrBool(false),
		MinDist:        ptrFloat64(c.GetMinDist()),
		ConstrainTypes: ptrBool(c.GetConstrainTypes()),
		EstimateTypes:  ptrBool(c.GetEstimateTypes()),
		FitL1Loss:      ptrBool(c.GetFitL1Loss()),
		IntermGDIters:  ptrInt(c.GetIntermGDIters()),
		FinalGDIters:   ptrInt(c.GetFinalGDIters()),
		LearningRate:   ptrFloat64(c.GetLearningRate()),
		Beta1:          ptrFloat64(c.GetBeta1()),
		Beta2:          ptrFloat64(c.GetBeta2()),
		WeightDecay:    ptrFloat64(c.GetWeightDecay()),
		SimpleIters:    ptrInt(c.GetSimpleIters()),
		SimpleTol:      ptrFloat64(c.GetSimpleTol()),
		Workers:        ptrInt(c.GetWorkers()),
		QueueSize:      ptrInt(c.GetQueueSize()),
		OutputKernel:   ptrBool(c.GetOutputKernel()),
		OutputConv:     ptrBool(c.GetOutputConv()),
	}
}

// LoadFitConfig loads a FitConfig from a JSON file. The file must have a
// .json extension and be under 1 MB.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFitConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *FitConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/atomfit/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadFitConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set value is usable.
func (c *FitConfig) Validate() error {
	if c.Strategy != nil && *c.Strategy != StrategyBeam && *c.Strategy != StrategySimple {
		return fmt.Errorf("strategy must be %q or %q, got %q", StrategyBeam, StrategySimple, *c.Strategy)
	}
	if c.BeamSize != nil && *c.BeamSize < 1 {
		return fmt.Errorf("beam_size must be at least 1, got %d", *c.BeamSize)
	}
	if c.IntermGDIters != nil && *c.IntermGDIters < 0 {
		return fmt.Errorf("interm_gd_iters must be non-negative, got %d", *c.IntermGDIters)
	}
	if c.FinalGDIters != nil && *c.FinalGDIters < 0 {
		return fmt.Errorf("final_gd_iters must be non-negative, got %d", *c.FinalGDIters)
	}
	if c.LearningRate != nil && !(*c.LearningRate > 0) {
		return fmt.Errorf("learning_rate must be positive, got %f", *c.LearningRate)
	}
	for name, b := range map[string]*float64{"beta1": c.Beta1, "beta2": c.Beta2} {
		if b != nil && (*b < 0 || *b >= 1) {
			return fmt.Errorf("%s must be in [0, 1), got %f", name, *b)
		}
	}
	if c.WeightDecay != nil && *c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be non-negative, got %f", *c.WeightDecay)
	}
	if c.SimpleIters != nil && *c.SimpleIters < 0 {
		return fmt.Errorf("simple_iters must be non-negative, got %d", *c.SimpleIters)
	}
	if c.SimpleTol != nil && *c.SimpleTol < 0 {
		return fmt.Errorf("simple_tol must be non-negative, got %f", *c.SimpleTol)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.QueueSize != nil && *c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be non-negative, got %d", *c.QueueSize)
	}
	return nil
}

// GetStrategy returns the strategy or "beam".
func (c *FitConfig) GetStrategy() string {
	if c.Strategy == nil || *c.Strategy == "" {
		return StrategyBeam
	}
	return *c.Strategy
}

// GetBeamSize returns the beam_size value or the default.
func (c *FitConfig) GetBeamSize() int {
	if c.BeamSize == nil {
		return 1
	}
	return *c.BeamSize
}

// GetMultiAtom returns the multi_atom value or the default.
func (c *FitConfig) GetMultiAtom() bool {
	if c.MultiAtom == nil {
		return false
	}
	return *c.MultiAtom
}

// GetNAtomsDetect returns the n_atoms_detect value or the default.
func (c *FitConfig) GetNAtomsDetect() int {
	if c.NAtomsDetect == nil {
		return 1
	}
	return *c.NAtomsDetect
}

// GetApplyConv returns the apply_conv value or the default.
func (c *FitConfig) GetApplyConv() bool {
	if c.ApplyConv == nil {
		return false
	}
	return *c.ApplyConv
}

// GetThreshold returns the detection threshold and whether it is enabled.
func (c *FitConfig) GetThreshold() (float64, bool) {
	if c.NoThreshold != nil && *c.NoThreshold {
		return 0, false
	}
	if c.Threshold == nil {
		return 0.1, true
	}
	return *c.Threshold, true
}

// GetPeakValue returns the peak fold value and whether folding is enabled.
func (c *FitConfig) GetPeakValue() (float64, bool) {
	if c.NoPeakFold != nil && *c.NoPeakFold {
		return 0, false
	}
	if c.PeakValue == nil {
		return 1.5, true
	}
	return *c.PeakValue, true
}

// GetMinDist returns the min_dist value or the default (suppression off).
func (c *FitConfig) GetMinDist() float64 {
	if c.MinDist == nil {
		return 0
	}
	return *c.MinDist
}

// GetConstrainTypes returns the constrain_types value or the default.
func (c *FitConfig) GetConstrainTypes() bool {
	if c.ConstrainTypes == nil {
		return false
	}
	return *c.ConstrainTypes
}

// GetEstimateTypes returns the estimate_types value or the default.
func (c *FitConfig) GetEstimateTypes() bool {
	if c.EstimateTypes == nil {
		return false
	}
	return *c.EstimateTypes
}

// GetFitL1Loss returns the fit_l1_loss value or the default.
func (c *FitConfig) GetFitL1Loss() bool {
	if c.FitL1Loss == nil {
		return false
	}
	return *c.FitL1Loss
}

// GetIntermGDIters returns the interm_gd_iters value or the default.
func (c *FitConfig) GetIntermGDIters() int {
	if c.IntermGDIters == nil {
		return 10
	}
	return *c.IntermGDIters
}

// GetFinalGDIters returns the final_gd_iters value or the default.
func (c *FitConfig) GetFinalGDIters() int {
	if c.FinalGDIters == nil {
		return 100
	}
	return *c.FinalGDIters
}

// GetLearningRate returns the learning_rate value or the default.
func (c *FitConfig) GetLearningRate() float64 {
	if c.LearningRate == nil {
		return 0.1
	}
	return *c.LearningRate
}

// GetBeta1 returns the beta1 value or the default.
func (c *FitConfig) GetBeta1() float64 {
	if c.Beta1 == nil {
		return 0.9
	}
	return *c.Beta1
}

// GetBeta2 returns the beta2 value or the default.
func (c *FitConfig) GetBeta2() float64 {
	if c.Beta2 == nil {
		return 0.999
	}
	return *c.Beta2
}

// GetWeightDecay returns the weight_decay value or the default.
func (c *FitConfig) GetWeightDecay() float64 {
	if c.WeightDecay == nil {
		return 0
	}
	return *c.WeightDecay
}

// GetSimpleIters returns the simple_iters value or the default.
func (c *FitConfig) GetSimpleIters() int {
	if c.SimpleIters == nil {
		return 25
	}
	return *c.SimpleIters
}

// GetSimpleTol returns the simple_tol value or the default.
func (c *FitConfig) GetSimpleTol() float64 {
	if c.SimpleTol == nil {
		return 0.01
	}
	return *c.SimpleTol
}

// GetWorkers returns the workers value or the default.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetQueueSize returns the queue_size value or the default.
func (c *FitConfig) GetQueueSize() int {
	if c.QueueSize == nil {
		return 8
	}
	return *c.QueueSize
}

// GetOutputKernel reports whether kernels are written as diagnostics.
func (c *FitConfig) GetOutputKernel() bool {
	return c.OutputKernel != nil && *c.OutputKernel
}

// GetOutputConv reports whether convolved detection fields are written.
func (c *FitConfig) GetOutputConv() bool {
	return c.OutputConv != nil && *c.OutputConv
}

// Command atomfit fits atomic structures to synthetic density grids and
// records the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/config"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/fitdb"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/banshee-data/atomfit/internal/report"
	"github.com/banshee-data/atomfit/internal/source"
	"github.com/banshee-data/atomfit/internal/version"
	"github.com/google/uuid"
)

var (
	configPath = flag.String("config", "", "Fit config JSON file (built-in defaults when empty)")
	dbPath     = flag.String("db", "", "SQLite database to record results in (disabled when empty)")
	reportDir  = flag.String("report-dir", "", "Directory for per-item plots and digests (disabled when empty)")
	strategy   = flag.String("strategy", "", "Override the config strategy (beam or simple)")
	workers    = flag.Int("workers", 0, "Override the config worker count")
	verbosity  = flag.Int("v", 0, "Debug log verbosity (0 silent, 1 progress, 2 detail)")
	showVer    = flag.Bool("version", false, "Print version and exit")
	outKernel  = flag.Bool("output-kernel", false, "Write the detection kernel and its deconvolution to the report directory")
	outConv    = flag.Bool("output-conv", false, "Write each target's convolved detection field to the report directory")

	items      = flag.Int("items", 4, "Number of synthetic targets to fit")
	nAtoms     = flag.Int("atoms", 3, "Atoms per synthetic target")
	channels   = flag.String("channels", "C,O", "Comma separated atom channels")
	gridN      = flag.Int("grid", 24, "Voxels per grid axis")
	resolution = flag.Float64("resolution", 0.5, "Voxel edge length in Angstroms")
	minSep     = flag.Float64("min-separation", 2.5, "Minimum distance between synthetic atoms")
	noise      = flag.Float64("noise", 0, "Standard deviation of gaussian noise added to targets")
	seed       = flag.Uint64("seed", 1, "Random seed for synthetic targets")
)

// runOptions collects everything run needs so tests can drive it without
// flags.
type runOptions struct {
	ConfigPath string
	DBPath     string
	ReportDir  string
	Strategy   string
	Workers    int
	// OutputKernel and OutputConv force the diagnostics on; they never
	// turn off what the config file enables.
	OutputKernel bool
	OutputConv   bool
	Channels     []string
	Synthetic    source.SyntheticConfig
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbosity(*verbosity)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		ConfigPath:   *configPath,
		DBPath:       *dbPath,
		ReportDir:    *reportDir,
		Strategy:     *strategy,
		Workers:      *workers,
		OutputKernel: *outKernel,
		OutputConv:   *outConv,
		Channels:     splitList(*channels),
		Synthetic: source.SyntheticConfig{
			N:             *gridN,
			Resolution:    *resolution,
			Atoms:         *nAtoms,
			Items:         *items,
			MinSeparation: *minSep,
			Noise:         *noise,
			Seed:          *seed,
		},
	}
	sum, err := run(ctx, opts)
	if err != nil {
		log.Fatalf("atomfit: %v", err)
	}
	fmt.Printf("run %s: %d items, %d fitted, %d failed, mean L2 %.6g, mean RMSD %.4g\n",
		sum.RunID, sum.Items, sum.Fitted, sum.Failed, sum.MeanL2, sum.MeanRMSD)
}

func run(ctx context.Context, opts runOptions) (pipeline.Summary, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return pipeline.Summary{}, err
	}

	cs, err := atoms.SelectChannels(opts.Channels...)
	if err != nil {
		return pipeline.Summary{}, err
	}
	synth := opts.Synthetic
	synth.Channels = cs
	src, err := source.NewSynthetic(synth)
	if err != nil {
		return pipeline.Summary{}, err
	}

	kernels := kernel.NewCache()
	runID := uuid.New().String()
	pcfg := pipeline.Config{
		Workers:   cfg.GetWorkers(),
		QueueSize: cfg.GetQueueSize(),
		NewFitter: func() (fit.Fitter, error) { return fit.New(cfg, kernels) },
		RunID:     runID,
	}

	var sinks []pipeline.Sink
	var store *fitdb.DB
	if opts.DBPath != "" {
		store, err = fitdb.Open(opts.DBPath)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer store.Close()
		if err := store.CreateRun(runID, cfg); err != nil {
			return pipeline.Summary{}, err
		}
		sinks = append(sinks, store)
	}
	var writer *report.Writer
	if opts.ReportDir != "" {
		writer, err = report.NewWriter(opts.ReportDir)
		if err != nil {
			return pipeline.Summary{}, err
		}
		if cfg.GetOutputKernel() || cfg.GetOutputConv() {
			writer.Diagnostics = report.NewDiagnostics(kernels, cfg.GetOutputKernel(), cfg.GetOutputConv())
		}
		sinks = append(sinks, writer)
	} else if cfg.GetOutputKernel() || cfg.GetOutputConv() {
		monitoring.Logf("atomfit: kernel and conv output need -report-dir, skipping")
	}

	monitoring.Logf("%s: run %s: %s strategy, %d workers, channels %s",
		version.String(), runID, cfg.GetStrategy(), pcfg.Workers, strings.Join(cs.Names(), ","))
	sum, runErr := pipeline.Run(ctx, src, pcfg, sinks...)
	sum.RunID = runID

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if store != nil {
		if err := store.FinishRun(sum); err != nil {
			errs = append(errs, err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return sum, errors.Join(errs...)
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts runOptions) (*config.FitConfig, error) {
	cfg := config.DefaultFitConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFitConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Strategy != "" {
		s := opts.Strategy
		cfg.Strategy = &s
	}
	if opts.Workers > 0 {
		w := opts.Workers
		cfg.Workers = &w
	}
	if opts.OutputKernel {
		on := true
		cfg.OutputKernel = &on
	}
	if opts.OutputConv {
		on := true
		cfg.OutputConv = &on
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

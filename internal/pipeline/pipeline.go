package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/rmsd"
	"github.com/banshee-data/atomfit/internal/source"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Stage distinguishes the unfitted target from its fit.
type Stage string

const (
	StageInput Stage = "input"
	StageFit   Stage = "fit"
)

// Output is one record delivered to every sink. For StageInput only Item is
// set. For StageFit, Result is nil when Err is a fitting error; Structure
// is the finalised structure and RMSD is NaN when no truth is known or the
// structures are incompatible.
type Output struct {
	RunID     string
	Seq       int
	Worker    int
	Stage     Stage
	Item      source.Item
	Result    *fit.Result
	Structure atoms.Structure
	RMSD      float64
	Err       error
}

// Sink consumes outputs. Sinks are only ever called from the collector
// goroutine.
type Sink interface {
	Write(Output) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Output) error

// Write calls f.
func (f SinkFunc) Write(o Output) error { return f(o) }

// Config controls Run.
type Config struct {
	Workers   int
	QueueSize int
	// NewFitter is called once per worker before any work starts.
	NewFitter func() (fit.Fitter, error)
	// Finalizer defaults to fit.NopFinalizer.
	Finalizer fit.Finalizer
	// RunID defaults to a new UUID.
	RunID string
}

// Summary reports what a run did. MeanL2 and StdL2 cover successful fits;
// MeanRMSD covers fits with a defined RMSD and is NaN when there are none.
type Summary struct {
	RunID    string
	Items    int
	Fitted   int
	Failed   int
	MeanL2   float64
	StdL2    float64
	MeanRMSD float64
}

type task struct {
	seq  int
	item source.Item
	stop bool
}

// Run fits every item of src and writes input and fit outputs to sinks.
//
// When ctx is cancelled the producer stops reading src; fits already
// queued or running complete. Run returns the first source, context or
// sink error after every worker has exited.
func Run(ctx context.Context, src source.Source, cfg Config, sinks ...Sink) (Summary, error) {
	if cfg.Workers < 1 {
		return Summary{}, fmt.Errorf("pipeline needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.QueueSize < 0 {
		return Summary{}, fmt.Errorf("queue size must be non-negative, got %d", cfg.QueueSize)
	}
	if cfg.NewFitter == nil {
		return Summary{}, errors.New("pipeline needs a fitter factory")
	}
	if cfg.Finalizer == nil {
		cfg.Finalizer = fit.NopFinalizer{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	fitters := make([]fit.Fitter, cfg.Workers)
	for i := range fitters {
		f, err := cfg.NewFitter()
		if err != nil {
			return Summary{}, fmt.Errorf("failed to create fitter for worker %d: %w", i, err)
		}
		fitters[i] = f
	}

	tasks := make(chan task, cfg.QueueSize)
	results := make(chan Output, cfg.QueueSize)

	var g errgroup.Group
	g.Go(func() error { return produce(ctx, src, tasks, cfg.Workers) })
	for i, f := range fitters {
		w := &worker{id: i, runID: cfg.RunID, fitter: f, finalizer: cfg.Finalizer}
		g.Go(func() error {
			w.run(ctx, tasks, results)
			return nil
		})
	}
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	sum, sinkErr := collect(results, cfg.RunID, sinks)
	if err := <-done; err != nil {
		return sum, err
	}
	if sinkErr != nil {
		return sum, sinkErr
	}
	return sum, nil
}

// produce feeds tasks until src is exhausted or ctx ends, then sends one
// sentinel per worker. Sentinels are sent on every path so workers always
// exit.
func produce(ctx context.Context, src source.Source, tasks chan<- task, workers int) error {
	defer func() {
		for i := 0; i < workers; i++ {
			tasks <- task{stop: true}
		}
	}()
	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("pipeline: stopping after %d items: %v", seq, err)
			return err
		}
		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read item %d: %w", seq, err)
		}
		tasks <- task{seq: seq, item: item}
	}
}

type worker struct {
	id        int
	runID     string
	fitter    fit.Fitter
	finalizer fit.Finalizer
}

func (w *worker) run(ctx context.Context, tasks <-chan task, results chan<- Output) {
	monitoring.Debugf(1, "pipeline: worker %d started", w.id)
	for t := range tasks {
		if t.stop {
			break
		}
		results <- Output{RunID: w.runID, Seq: t.seq, Worker: w.id, Stage: StageInput, Item: t.item, RMSD: math.NaN()}
		results <- w.fit(ctx, t)
	}
	monitoring.Debugf(1, "pipeline: worker %d exiting", w.id)
}

func (w *worker) fit(ctx context.Context, t task) Output {
	out := Output{RunID: w.runID, Seq: t.seq, Worker: w.id, Stage: StageFit, Item: t.item, RMSD: math.NaN()}

	// In-flight fits are never cancelled.
	res, err := w.fitter.Fit(context.WithoutCancel(ctx), t.item.Field, t.item.TrueTypes)
	if err != nil {
		out.Err = fmt.Errorf("fit %s: %w", t.item.Name, err)
		return out
	}
	out.Result = res.Detach()

	final, err := w.finalizer.Finalize(out.Result.Structure, t.item.Field.Channels)
	if err != nil {
		out.Err = fmt.Errorf("finalize %s: %w", t.item.Name, err)
		final = out.Result.Structure
	}
	out.Structure = final

	if t.item.Truth != nil {
		d, err := rmsd.MinRMSD(*t.item.Truth, final)
		if err != nil {
			monitoring.Debugf(1, "pipeline: %s: rmsd undefined: %v", t.item.Name, err)
		} else {
			out.RMSD = d
		}
	}
	monitoring.Debugf(1, "pipeline: worker %d fit %s: %d atoms, L2 %.6g in %v",
		w.id, t.item.Name, final.Len(), res.Diagnostics.L2Loss, res.Diagnostics.Elapsed)
	return out
}

// collect drains results until the channel closes, writing each output to
// every sink. It keeps draining after a sink error so workers never block.
func collect(results <-chan Output, runID string, sinks []Sink) (Summary, error) {
	sum := Summary{RunID: runID, MeanL2: math.NaN(), StdL2: math.NaN(), MeanRMSD: math.NaN()}
	var firstErr error
	var losses, rmsds []float64

	for out := range results {
		switch out.Stage {
		case StageInput:
			sum.Items++
		case StageFit:
			if out.Result == nil {
				sum.Failed++
				monitoring.Logf("pipeline: %v", out.Err)
			} else {
				sum.Fitted++
				losses = append(losses, out.Result.Diagnostics.L2Loss)
				if !math.IsNaN(out.RMSD) {
					rmsds = append(rmsds, out.RMSD)
				}
			}
		}
		for i, s := range sinks {
			if err := s.Write(out); err != nil {
				monitoring.Logf("pipeline: sink %d failed on %s/%s: %v", i, out.Item.Name, out.Stage, err)
				if firstErr == nil {
					firstErr = fmt.Errorf("sink %d: %w", i, err)
				}
			}
		}
	}

	if len(losses) > 0 {
		sum.MeanL2, sum.StdL2 = stat.MeanStdDev(losses, nil)
	}
	if len(rmsds) > 0 {
		sum.MeanRMSD = stat.Mean(rmsds, nil)
	}
	return sum, firstErr
}

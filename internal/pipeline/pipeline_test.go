package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/banshee-data/atomfit/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func channels(t *testing.T) atoms.ChannelSet {
	t.Helper()
	cs, err := atoms.NewChannelSet(atoms.Channel{Name: "C", Radius: 1.0, Index: 0})
	require.NoError(t, err)
	return cs
}

// item renders one atom on a voxel centre of a 16³ grid.
func item(t *testing.T, name string, pos r3.Vec) source.Item {
	t.Helper()
	truth := atoms.MustStructure([]r3.Vec{pos}, []int{0})
	f := grid.Render(grid.New(channels(t), 16, r3.Vec{}, 0.5), truth)
	return source.Item{Name: name, Field: f, TrueTypes: []float64{1}, Truth: &truth}
}

// stubFitter returns the empty structure, or an error for names in fail.
type stubFitter struct {
	fail  map[string]bool
	calls *atomic.Int32
}

func (s stubFitter) Fit(_ context.Context, field *grid.Field, _ []float64) (*fit.Result, error) {
	s.calls.Add(1)
	if field == nil {
		return nil, errors.New("nil field")
	}
	if s.fail[fmt.Sprint(field.Center.X)] {
		return nil, errors.New("boom")
	}
	return &fit.Result{Density: field.Like(), Diagnostics: fit.Diagnostics{L2Loss: 1}}, nil
}

type recorder struct {
	mu   sync.Mutex
	outs []Output
	err  error
}

func (r *recorder) Write(o Output) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs = append(r.outs, o)
	return r.err
}

func TestRunDeliversInputBeforeFit(t *testing.T) {
	var items []source.Item
	for i := 0; i < 7; i++ {
		items = append(items, item(t, fmt.Sprintf("item-%d", i), r3.Vec{}))
	}
	var calls atomic.Int32
	var made atomic.Int32
	cfg := Config{
		Workers:   3,
		QueueSize: 1,
		NewFitter: func() (fit.Fitter, error) {
			made.Add(1)
			return stubFitter{calls: &calls}, nil
		},
		RunID: "run-1",
	}
	rec := &recorder{}
	sum, err := Run(context.Background(), source.NewSlice(items...), cfg, rec)
	require.NoError(t, err)

	assert.Equal(t, int32(3), made.Load())
	assert.Equal(t, int32(7), calls.Load())
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 7, sum.Items)
	assert.Equal(t, 7, sum.Fitted)
	assert.Equal(t, 0, sum.Failed)
	assert.InDelta(t, 1.0, sum.MeanL2, 1e-12)
	// empty structure vs one true atom: rmsd undefined
	assert.True(t, math.IsNaN(sum.MeanRMSD))

	require.Len(t, rec.outs, 14)
	seen := map[int]Stage{}
	for _, o := range rec.outs {
		assert.Equal(t, "run-1", o.RunID)
		if o.Stage == StageFit {
			assert.Equal(t, StageInput, seen[o.Seq], "fit output for %d arrived before its input", o.Seq)
			assert.True(t, math.IsNaN(o.RMSD))
			require.NotNil(t, o.Result)
		}
		seen[o.Seq] = o.Stage
	}
	assert.Len(t, seen, 7)
}

func TestRunWithBeamFitter(t *testing.T) {
	cache := kernel.NewCache()
	cfg := Config{
		Workers:   2,
		QueueSize: 2,
		NewFitter: func() (fit.Fitter, error) {
			opts := fit.DefaultOptions()
			opts.Kernels = cache
			return fit.NewBeamFitter(opts)
		},
	}
	items := []source.Item{
		item(t, "a", r3.Vec{X: 0.25, Y: -0.25, Z: 0.25}),
		item(t, "b", r3.Vec{X: -1.25, Y: 0.75, Z: 0.25}),
	}
	rec := &recorder{}
	sum, err := Run(context.Background(), source.NewSlice(items...), cfg, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 2, sum.Fitted)
	assert.InDelta(t, 0.0, sum.MeanRMSD, 1e-9)

	for _, o := range rec.outs {
		if o.Stage == StageFit {
			assert.Equal(t, 1, o.Structure.Len())
		}
	}
}

func TestRunCountsFitFailures(t *testing.T) {
	var calls atomic.Int32
	cfg := Config{
		Workers:   2,
		NewFitter: func() (fit.Fitter, error) { return stubFitter{calls: &calls, fail: map[string]bool{"1": true}}, nil },
	}
	bad := item(t, "bad", r3.Vec{})
	bad.Field.Center = r3.Vec{X: 1}
	src := source.NewSlice(item(t, "ok", r3.Vec{}), bad)

	rec := &recorder{}
	sum, err := Run(context.Background(), src, cfg, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fitted)
	assert.Equal(t, 1, sum.Failed)

	var failed []Output
	for _, o := range rec.outs {
		if o.Stage == StageFit && o.Err != nil {
			failed = append(failed, o)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Item.Name)
	assert.Nil(t, failed[0].Result)
}

type failingSource struct{ n int }

func (s *failingSource) Next(ctx context.Context) (source.Item, error) {
	if s.n == 0 {
		return source.Item{}, errors.New("disk on fire")
	}
	s.n--
	return source.Item{Name: "x", Field: grid.New(nil, 1, r3.Vec{}, 1)}, nil
}

func TestRunSourceError(t *testing.T) {
	var calls atomic.Int32
	cfg := Config{
		Workers:   4,
		NewFitter: func() (fit.Fitter, error) { return stubFitter{calls: &calls}, nil },
	}
	sum, err := Run(context.Background(), &failingSource{n: 2}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, 2, sum.Items)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunSinkErrorKeepsDraining(t *testing.T) {
	var calls atomic.Int32
	var items []source.Item
	for i := 0; i < 5; i++ {
		items = append(items, item(t, fmt.Sprint(i), r3.Vec{}))
	}
	cfg := Config{
		Workers:   2,
		NewFitter: func() (fit.Fitter, error) { return stubFitter{calls: &calls}, nil },
	}
	broken := &recorder{err: errors.New("disk full")}
	healthy := &recorder{}
	_, err := Run(context.Background(), source.NewSlice(items...), cfg, broken, healthy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, broken.outs, 10)
	assert.Len(t, healthy.outs, 10)
}

func TestRunCancelledContext(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{
		Workers:   2,
		NewFitter: func() (fit.Fitter, error) { return stubFitter{calls: &calls}, nil },
	}
	_, err := Run(ctx, source.NewSlice(item(t, "a", r3.Vec{})), cfg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRunConfigErrors(t *testing.T) {
	src := source.NewSlice()
	_, err := Run(context.Background(), src, Config{Workers: 0})
	assert.Error(t, err)

	_, err = Run(context.Background(), src, Config{Workers: 1})
	assert.Error(t, err)

	_, err = Run(context.Background(), src, Config{
		Workers:   1,
		NewFitter: func() (fit.Fitter, error) { return nil, errors.New("no kernel") },
	})
	assert.ErrorContains(t, err, "no kernel")
}

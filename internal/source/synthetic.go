package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrPlacement is returned when random placement cannot satisfy the
// minimum separation inside the grid.
var ErrPlacement = errors.New("cannot place atoms")

// SyntheticConfig describes randomly generated targets.
type SyntheticConfig struct {
	Channels      atoms.ChannelSet
	N             int     // voxels per axis
	Resolution    float64 // voxel edge length
	Atoms         int     // atoms per item
	Items         int     // number of items, 0 for unbounded
	MinSeparation float64 // minimum distance between atom centres
	Noise         float64 // standard deviation of additive gaussian noise
	Seed          uint64
}

// Synthetic renders random structures of known composition. It is
// deterministic for a given seed.
type Synthetic struct {
	cfg     SyntheticConfig
	src     rand.Source
	pick    *rand.Rand
	emitted int
}

// NewSynthetic validates cfg and returns a synthetic source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("synthetic source needs at least one channel")
	}
	if cfg.N <= 0 || !(cfg.Resolution > 0) {
		return nil, fmt.Errorf("%w: %d voxels at resolution %g", grid.ErrShape, cfg.N, cfg.Resolution)
	}
	if cfg.Atoms < 0 || cfg.Items < 0 || cfg.Noise < 0 {
		return nil, fmt.Errorf("synthetic source counts and noise must be non-negative")
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	return &Synthetic{cfg: cfg, src: src, pick: rand.New(src)}, nil
}

// Next renders the next random item, or io.EOF once Items are emitted.
func (s *Synthetic) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if s.cfg.Items > 0 && s.emitted >= s.cfg.Items {
		return Item{}, io.EOF
	}
	like := grid.New(s.cfg.Channels, s.cfg.N, r3.Vec{}, s.cfg.Resolution)
	truth, err := s.structure(like)
	if err != nil {
		return Item{}, err
	}
	field := grid.Render(like, truth)
	if s.cfg.Noise > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: s.cfg.Noise, Src: s.src}
		for i := range field.Values {
			field.Values[i] += noise.Rand()
		}
	}
	s.emitted++
	return Item{
		Name:      fmt.Sprintf("synthetic-%04d", s.emitted),
		Field:     field,
		TrueTypes: truth.TypeCounts(len(s.cfg.Channels)),
		Truth:     &truth,
	}, nil
}

// structure places atoms uniformly inside the grid, far enough from the
// edges for their full density to be rendered.
func (s *Synthetic) structure(like *grid.Field) (atoms.Structure, error) {
	const maxTries = 1000
	lo, hi := like.Origin(), like.Point(like.N-1, like.N-1, like.N-1)
	margin := grid.FinalRadiusMultiple * s.cfg.Channels.MaxRadius()

	coords := make([]r3.Vec, 0, s.cfg.Atoms)
	types := make([]int, 0, s.cfg.Atoms)
	for len(coords) < s.cfg.Atoms {
		placed := false
		for try := 0; try < maxTries && !placed; try++ {
			p := r3.Vec{
				X: s.uniform(lo.X+margin, hi.X-margin),
				Y: s.uniform(lo.Y+margin, hi.Y-margin),
				Z: s.uniform(lo.Z+margin, hi.Z-margin),
			}
			if s.clear(p, coords) {
				coords = append(coords, p)
				types = append(types, s.pick.IntN(len(s.cfg.Channels)))
				placed = true
			}
		}
		if !placed {
			return atoms.Structure{}, fmt.Errorf("%w: %d of %d placed with separation %g",
				ErrPlacement, len(coords), s.cfg.Atoms, s.cfg.MinSeparation)
		}
	}
	return atoms.NewStructure(coords, types)
}

func (s *Synthetic) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return (lo + hi) / 2
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: s.src}.Rand()
}

func (s *Synthetic) clear(p r3.Vec, placed []r3.Vec) bool {
	min2 := s.cfg.MinSeparation * s.cfg.MinSeparation
	for _, q := range placed {
		if r3.Norm2(r3.Sub(p, q)) < min2 {
			return false
		}
	}
	return true
}

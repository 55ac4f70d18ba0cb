package atoms

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrLengthMismatch is returned when coordinates and types differ in length.
var ErrLengthMismatch = errors.New("coordinate and type counts differ")

// Structure is an immutable set of atoms. Types are channel-set positions.
// Every operation that adds or moves atoms returns a new Structure, so an
// intermediate search state can be retained and inspected independently.
type Structure struct {
	coords []r3.Vec
	types  []int
}

// NewStructure copies coords and types into a new Structure.
func NewStructure(coords []r3.Vec, types []int) (Structure, error) {
	if len(coords) != len(types) {
		return Structure{}, fmt.Errorf("%w: %d coords, %d types", ErrLengthMismatch, len(coords), len(types))
	}
	return Structure{coords: cloneVecs(coords), types: cloneInts(types)}, nil
}

// MustStructure is NewStructure for fixed literals such as test fixtures
// shared across packages. It panics when coords and types differ in length,
// so it must not be used on data read at run time.
func MustStructure(coords []r3.Vec, types []int) Structure {
	s, err := NewStructure(coords, types)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of atoms.
func (s Structure) Len() int { return len(s.types) }

// Coord returns the coordinate of atom i.
func (s Structure) Coord(i int) r3.Vec { return s.coords[i] }

// Type returns the channel position of atom i.
func (s Structure) Type(i int) int { return s.types[i] }

// Coords returns a copy of the coordinates.
func (s Structure) Coords() []r3.Vec { return cloneVecs(s.coords) }

// Types returns a copy of the channel positions.
func (s Structure) Types() []int { return cloneInts(s.types) }

// Append returns a new Structure with the given atoms added after the
// existing ones. The receiver is left untouched.
func (s Structure) Append(coords []r3.Vec, types []int) (Structure, error) {
	if len(coords) != len(types) {
		return Structure{}, fmt.Errorf("%w: %d coords, %d types", ErrLengthMismatch, len(coords), len(types))
	}
	out := Structure{
		coords: make([]r3.Vec, 0, len(s.coords)+len(coords)),
		types:  make([]int, 0, len(s.types)+len(types)),
	}
	out.coords = append(append(out.coords, s.coords...), coords...)
	out.types = append(append(out.types, s.types...), types...)
	return out, nil
}

// WithCoords returns a new Structure with the same types and new
// coordinates, as produced by refinement.
func (s Structure) WithCoords(coords []r3.Vec) (Structure, error) {
	return NewStructure(coords, s.types)
}

// TypeCounts returns the number of atoms in each of n channels. Types
// outside [0, n) are ignored.
func (s Structure) TypeCounts(n int) []float64 {
	counts := make([]float64, n)
	for _, t := range s.types {
		if t >= 0 && t < n {
			counts[t]++
		}
	}
	return counts
}

// Detach returns a deep copy that shares no backing arrays with s, suitable
// for handing across a goroutine or storage boundary.
func (s Structure) Detach() Structure {
	return Structure{coords: cloneVecs(s.coords), types: cloneInts(s.types)}
}

func cloneVecs(v []r3.Vec) []r3.Vec {
	if len(v) == 0 {
		return nil
	}
	out := make([]r3.Vec, len(v))
	copy(out, v)
	return out
}

func cloneInts(v []int) []int {
	if len(v) == 0 {
		return nil
	}
	out := make([]int, len(v))
	copy(out, v)
	return out
}

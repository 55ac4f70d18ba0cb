package atoms

import (
	"encoding/json"

	"gonum.org/v1/gonum/spatial/r3"
)

type structureJSON struct {
	Coords [][3]float64 `json:"coords"`
	Types  []int        `json:"types"`
}

// MarshalJSON encodes the structure as parallel coordinate and type arrays.
func (s Structure) MarshalJSON() ([]byte, error) {
	out := structureJSON{
		Coords: make([][3]float64, len(s.coords)),
		Types:  s.types,
	}
	if out.Types == nil {
		out.Types = []int{}
	}
	for i, c := range s.coords {
		out.Coords[i] = [3]float64{c.X, c.Y, c.Z}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Structure) UnmarshalJSON(data []byte) error {
	var in structureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	coords := make([]r3.Vec, len(in.Coords))
	for i, c := range in.Coords {
		coords[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
	}
	decoded, err := NewStructure(coords, in.Types)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

package atoms

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrChannelSet is returned when a channel set violates its invariants.
var ErrChannelSet = errors.New("invalid channel set")

// Channel is one atom-type category. Radius is the atomic radius in
// Angstroms used by the density projection.
type Channel struct {
	Name   string  `json:"name"`
	Radius float64 `json:"radius"`
	Index  int     `json:"index"`
}

// ChannelSet is an ordered list of channels. The position of a channel in
// the set is its density-field channel; Structure types refer to positions.
type ChannelSet []Channel

// NewChannelSet validates and returns a channel set. Radii must be positive
// and indices unique.
func NewChannelSet(channels ...Channel) (ChannelSet, error) {
	seen := make(map[int]string, len(channels))
	for _, ch := range channels {
		if ch.Radius <= 0 {
			return nil, fmt.Errorf("%w: channel %q has radius %g", ErrChannelSet, ch.Name, ch.Radius)
		}
		if prev, dup := seen[ch.Index]; dup {
			return nil, fmt.Errorf("%w: channels %q and %q share index %d", ErrChannelSet, prev, ch.Name, ch.Index)
		}
		seen[ch.Index] = ch.Name
	}
	cs := make(ChannelSet, len(channels))
	copy(cs, channels)
	return cs, nil
}

// Len returns the number of channels.
func (cs ChannelSet) Len() int { return len(cs) }

// Radii returns the channel radii in set order.
func (cs ChannelSet) Radii() []float64 {
	radii := make([]float64, len(cs))
	for i, ch := range cs {
		radii[i] = ch.Radius
	}
	return radii
}

// MaxRadius returns the largest radius in the set, or 0 for an empty set.
func (cs ChannelSet) MaxRadius() float64 {
	maxR := 0.0
	for _, ch := range cs {
		if ch.Radius > maxR {
			maxR = ch.Radius
		}
	}
	return maxR
}

// Names returns the channel names in set order.
func (cs ChannelSet) Names() []string {
	names := make([]string, len(cs))
	for i, ch := range cs {
		names[i] = ch.Name
	}
	return names
}

// Position returns the set position of the channel with the given name.
func (cs ChannelSet) Position(name string) (int, bool) {
	for i, ch := range cs {
		if ch.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Key identifies the channel set for caching. Two sets with the same
// ordered names and radii share a key.
func (cs ChannelSet) Key() string {
	var b strings.Builder
	for i, ch := range cs {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%g", ch.Name, ch.Radius)
	}
	return b.String()
}

// defaultRadii holds the ligand atom types and radii used when no explicit
// channel set is configured.
var defaultRadii = []struct {
	name   string
	radius float64
}{
	{"C", 1.9},
	{"N", 1.8},
	{"O", 1.7},
	{"P", 2.1},
	{"S", 2.0},
	{"F", 1.5},
	{"Cl", 1.8},
	{"Br", 2.0},
	{"I", 2.2},
}

// DefaultChannels returns the process-wide default ligand channel set. It is
// built once on first use; callers must not modify the returned slice.
var DefaultChannels = sync.OnceValue(func() ChannelSet {
	cs := make(ChannelSet, len(defaultRadii))
	for i, d := range defaultRadii {
		cs[i] = Channel{Name: d.name, Radius: d.radius, Index: i}
	}
	return cs
})

// SelectChannels returns a new set containing the named default channels in
// the order given, re-indexed from zero.
func SelectChannels(names ...string) (ChannelSet, error) {
	defaults := DefaultChannels()
	channels := make([]Channel, 0, len(names))
	for i, name := range names {
		pos, ok := defaults.Position(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrChannelSet, name)
		}
		ch := defaults[pos]
		ch.Index = i
		channels = append(channels, ch)
	}
	return NewChannelSet(channels...)
}

// Package source supplies target density fields to the fitting pipeline.
package source

import (
	"context"
	"io"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
)

// Item is one target to fit. TrueTypes and Truth are nil when unknown.
type Item struct {
	Name      string
	Field     *grid.Field
	TrueTypes []float64
	Truth     *atoms.Structure
}

// Source yields items until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (Item, error)
}

// Slice serves a fixed list of items in order.
type Slice struct {
	items []Item
	pos   int
}

// NewSlice returns a Source over items.
func NewSlice(items ...Item) *Slice {
	return &Slice{items: items}
}

// Next returns the next item or io.EOF.
func (s *Slice) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if s.pos >= len(s.items) {
		return Item{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}

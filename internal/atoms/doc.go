// Package atoms owns the labeled point data model used throughout fitting.
//
// Responsibilities: atom-type channels (radius, name, index), the ordered
// channel sets that density fields are built over, and immutable
// Structures of (coordinate, channel) pairs.
// Key types: Channel, ChannelSet, Structure.
//
// Dependency rule: atoms is a leaf package. It must not depend on grid,
// kernel, detect, refine or fit.
package atoms

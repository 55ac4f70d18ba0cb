// Package kernel builds the canonical single-atom density template used to
// detect atoms in residual density and to estimate per-channel atom counts.
//
// A kernel is a density field holding one atom of every channel at the
// origin, rendered through the same projection as fitted structures. Its
// spatial extent is always odd so the atom sits on a unique centre voxel.
// Kernels are memoised per (channel set, resolution) in a Cache.
//
// Dependency rule: kernel may depend on atoms and grid only.
package kernel

// Package detect proposes the next atoms to add to a structure from a
// residual density field.
//
// Responsibilities: optional kernel convolution, peak folding, priority
// ordering of every (channel, voxel) pair, thresholding, type-budget
// filtering, same-channel non-max suppression and truncation.
// Key types: Detector, Config, Proposal.
//
// Dependency rule: detect may depend on atoms, grid and kernel. It must not
// depend on refine or fit.
package detect

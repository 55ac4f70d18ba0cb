// Package grid owns multi-channel volumetric density fields and the
// atom-to-density projection shared by kernel building, detection and
// refinement.
//
// Responsibilities: field shape validation, voxel/coordinate mapping,
// rendering structures into density, analytic coordinate gradients of the
// rendered density, L1/L2 losses, and FFT-based 3D convolution.
// Key types: Field.
//
// Dependency rule: grid may depend on atoms only.
package grid

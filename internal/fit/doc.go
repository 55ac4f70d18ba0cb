// Package fit infers an atom structure whose rendered density reproduces a
// target density field.
//
// Responsibilities: the Fitter contract, the beam search over partial
// structures, a greedy single-structure fitter, objectives, the visited
// history and final diagnostics.
// Key types: Fitter, BeamFitter, SimpleFitter, Candidate, Result.
//
// Dependency rule: fit may depend on atoms, grid, kernel, detect, refine,
// config, monitoring and timeutil. It must not depend on pipeline, fitdb or
// report. One Fit call owns all of its search state; a Fitter may be
// reused sequentially but not concurrently.
package fit

// Package refine optimises atom coordinates against a target density with
// channel assignments held fixed.
//
// Key types: Refiner, Adam, Outcome, LossKind.
//
// Dependency rule: refine may depend on atoms and grid only.
package refine

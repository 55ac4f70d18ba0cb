// Package pipeline runs independent fits over a worker pool.
//
// Responsibilities: reading targets from a source.Source, distributing them
// over a bounded task queue to workers that each own a fit.Fitter,
// shutting workers down with one sentinel task each, and serialising all
// output through a single collector into the configured sinks.
// Key types: Config, Output, Sink, Summary.
//
// Dependency rule: pipeline may depend on fit, rmsd and source. Storage and
// reporting plug in as Sinks; pipeline must not import fitdb or report.
package pipeline

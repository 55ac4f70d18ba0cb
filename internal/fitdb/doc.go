// Package fitdb persists pipeline runs in SQLite: one fit_runs row per run,
// one fit_results row per pipeline output and one visited_structs row per
// structure the search evaluated. The schema is managed by golang-migrate
// from migrations embedded in the binary.
package fitdb

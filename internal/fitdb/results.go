package fitdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/google/uuid"
)

// ResultRow is one fit_results row. Metrics that were undefined for the
// output are NaN.
type ResultRow struct {
	ResultID    string
	RunID       string
	Seq         int
	Worker      int
	Stage       pipeline.Stage
	ItemName    string
	NAtoms      int
	L1Loss      float64
	L2Loss      float64
	TypeDiff    float64
	EstTypeDiff float64
	RMSD        float64
	Elapsed     time.Duration
	Expanded    int
	Accepted    int
	Structure   *atoms.Structure
	Error       string
	CreatedAt   time.Time
}

// VisitedRow is one visited_structs row.
type VisitedRow struct {
	Ordinal   int
	ParentID  int
	TypeLoss  float64
	FitLoss   float64
	Elapsed   time.Duration
	NAtoms    int
	Structure atoms.Structure
}

// Write implements pipeline.Sink.
func (db *DB) Write(o pipeline.Output) error {
	_, err := db.RecordResult(o)
	return err
}

// RecordResult stores one pipeline output and, for fit outputs, the
// visited history of its search, in a single transaction. It returns the
// generated result id.
//
// Input outputs store the true structure when one is known. Fit outputs
// store the finalised structure.
func (db *DB) RecordResult(o pipeline.Output) (string, error) {
	resultID := uuid.New().String()

	row := ResultRow{
		L1Loss: math.NaN(), L2Loss: math.NaN(), TypeDiff: math.NaN(),
		EstTypeDiff: math.NaN(), RMSD: o.RMSD,
	}
	var structure *atoms.Structure
	switch {
	case o.Stage == pipeline.StageInput:
		structure = o.Item.Truth
	case o.Result != nil:
		d := o.Result.Diagnostics
		row.L1Loss, row.L2Loss = d.L1Loss, d.L2Loss
		row.TypeDiff, row.EstTypeDiff = d.TypeDiff, d.EstTypeDiff
		row.Elapsed = d.Elapsed
		row.Expanded, row.Accepted = d.Expanded, d.Accepted
		s := o.Structure
		structure = &s
	}

	var structJSON sql.NullString
	if structure != nil {
		row.NAtoms = structure.Len()
		raw, err := json.Marshal(*structure)
		if err != nil {
			return "", fmt.Errorf("failed to encode structure of %s: %w", o.Item.Name, err)
		}
		structJSON = sql.NullString{String: string(raw), Valid: true}
	}
	var errText sql.NullString
	if o.Err != nil {
		errText = sql.NullString{String: o.Err.Error(), Valid: true}
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO fit_results (
			result_id, run_id, seq, worker, stage, item_name, n_atoms,
			l1_loss, l2_loss, type_diff, est_type_diff, rmsd, elapsed_ms,
			expanded, accepted, structure, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resultID, o.RunID, o.Seq, o.Worker, string(o.Stage), o.Item.Name, row.NAtoms,
		nullFloat(row.L1Loss), nullFloat(row.L2Loss), nullFloat(row.TypeDiff),
		nullFloat(row.EstTypeDiff), nullFloat(row.RMSD), millis(row.Elapsed),
		row.Expanded, row.Accepted, structJSON, errText, db.clock.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert result for %s/%s: %w", o.Item.Name, o.Stage, err)
	}

	if o.Result != nil {
		if err := insertVisited(tx, resultID, o.Result.Visited); err != nil {
			return "", fmt.Errorf("%s: %w", o.Item.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit result for %s: %w", o.Item.Name, err)
	}
	return resultID, nil
}

func insertVisited(tx *sql.Tx, resultID string, visited []fit.VisitedEntry) error {
	if len(visited) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO visited_structs (
			result_id, ordinal, parent_id, type_loss, fit_loss, elapsed_ms, n_atoms, structure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare visited insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range visited {
		raw, err := json.Marshal(v.Structure)
		if err != nil {
			return fmt.Errorf("failed to encode visited structure %d: %w", i, err)
		}
		if _, err := stmt.Exec(resultID, i, v.ParentID, v.Objective.TypeLoss, v.Objective.FitLoss,
			millis(v.Elapsed), v.Structure.Len(), string(raw)); err != nil {
			return fmt.Errorf("failed to insert visited structure %d: %w", i, err)
		}
	}
	return nil
}

// ListResults returns every output recorded for a run ordered by sequence
// number, the input row of each item before its fit row.
func (db *DB) ListResults(runID string) ([]ResultRow, error) {
	rows, err := db.Query(`
		SELECT result_id, run_id, seq, worker, stage, item_name, n_atoms,
			l1_loss, l2_loss, type_diff, est_type_diff, rmsd, elapsed_ms,
			expanded, accepted, structure, error, created_at
		FROM fit_results
		WHERE run_id = ?
		ORDER BY seq, CASE stage WHEN 'input' THEN 0 ELSE 1 END`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			r                          ResultRow
			stage                      string
			l1, l2, td, etd, rmsd, ems sql.NullFloat64
			structJSON, errText        sql.NullString
		)
		if err := rows.Scan(&r.ResultID, &r.RunID, &r.Seq, &r.Worker, &stage, &r.ItemName, &r.NAtoms,
			&l1, &l2, &td, &etd, &rmsd, &ems, &r.Expanded, &r.Accepted, &structJSON, &errText, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Stage = pipeline.Stage(stage)
		r.L1Loss, r.L2Loss = floatOrNaN(l1), floatOrNaN(l2)
		r.TypeDiff, r.EstTypeDiff = floatOrNaN(td), floatOrNaN(etd)
		r.RMSD = floatOrNaN(rmsd)
		if ems.Valid {
			r.Elapsed = fromMillis(ems.Float64)
		}
		r.Error = errText.String
		if structJSON.Valid {
			var s atoms.Structure
			if err := json.Unmarshal([]byte(structJSON.String), &s); err != nil {
				return nil, fmt.Errorf("failed to decode structure of result %s: %w", r.ResultID, err)
			}
			r.Structure = &s
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Visited returns the search history stored for a result in evaluation
// order.
func (db *DB) Visited(resultID string) ([]VisitedRow, error) {
	rows, err := db.Query(`
		SELECT ordinal, parent_id, type_loss, fit_loss, elapsed_ms, n_atoms, structure
		FROM visited_structs
		WHERE result_id = ?
		ORDER BY ordinal`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query visited structures of %s: %w", resultID, err)
	}
	defer rows.Close()

	var out []VisitedRow
	for rows.Next() {
		var (
			v   VisitedRow
			ems float64
			raw string
		)
		if err := rows.Scan(&v.Ordinal, &v.ParentID, &v.TypeLoss, &v.FitLoss, &ems, &v.NAtoms, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan visited structure: %w", err)
		}
		v.Elapsed = fromMillis(ems)
		if err := json.Unmarshal([]byte(raw), &v.Structure); err != nil {
			return nil, fmt.Errorf("failed to decode visited structure %d: %w", v.Ordinal, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// nullFloat maps NaN and infinities to SQL NULL.
func nullFloat(x float64) sql.NullFloat64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}

func floatOrNaN(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

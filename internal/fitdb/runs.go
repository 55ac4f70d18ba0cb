package fitdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/atomfit/internal/config"
	"github.com/banshee-data/atomfit/internal/pipeline"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Run is one fit_runs row.
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Config     *config.FitConfig
	Items      int
	Fitted     int
	Failed     int
	MeanL2     float64
	MeanRMSD   float64
}

// CreateRun records the start of a run and the configuration it uses.
func (db *DB) CreateRun(runID string, cfg *config.FitConfig) error {
	if cfg == nil {
		cfg = config.EmptyFitConfig()
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config for run %s: %w", runID, err)
	}
	_, err = db.Exec(
		`INSERT INTO fit_runs (run_id, started_at, config_json) VALUES (?, ?, ?)`,
		runID, db.clock.Now().UTC(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the run summary and stamps the finish time.
func (db *DB) FinishRun(sum pipeline.Summary) error {
	res, err := db.Exec(`
		UPDATE fit_runs
		SET finished_at = ?, items = ?, fitted = ?, failed = ?, mean_l2 = ?, mean_rmsd = ?
		WHERE run_id = ?`,
		db.clock.Now().UTC(), sum.Items, sum.Fitted, sum.Failed,
		nullFloat(sum.MeanL2), nullFloat(sum.MeanRMSD), sum.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", sum.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", sum.RunID, ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (db *DB) GetRun(runID string) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
		raw      string
		meanL2   sql.NullFloat64
		meanRMSD sql.NullFloat64
	)
	err := db.QueryRow(`
		SELECT run_id, started_at, finished_at, config_json, items, fitted, failed, mean_l2, mean_rmsd
		FROM fit_runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.StartedAt, &finished, &raw, &r.Items, &r.Fitted, &r.Failed, &meanL2, &meanRMSD)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.Config = config.EmptyFitConfig()
	if err := json.Unmarshal([]byte(raw), r.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of run %s: %w", runID, err)
	}
	r.MeanL2 = floatOrNaN(meanL2)
	r.MeanRMSD = floatOrNaN(meanRMSD)
	return &r, nil
}

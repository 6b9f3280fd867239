package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/impact.report/internal/impact/l5model"
	"github.com/banshee-data/impact.report/internal/impact/l6eval"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// createdAtLayout is fixed width so created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TrainingRun is one row of training_runs joined with its headline
// evaluation metrics.
type TrainingRun struct {
	ModelVersion          string         `json:"model_version"`
	CreatedAt             time.Time      `json:"created_at"`
	DataPath              string         `json:"data_path"`
	ArtifactPath          string         `json:"artifact_path"`
	BuildVersion          string         `json:"build_version"`
	Samples               int            `json:"samples"`
	Vehicles              int            `json:"vehicles"`
	Windows               int            `json:"windows"`
	Positives             int            `json:"positives"`
	WindowSize            int            `json:"window_size"`
	StepSize              int            `json:"step_size"`
	SamplingRate          float64        `json:"sampling_rate"`
	BalancedThreshold     float64        `json:"balanced_threshold"`
	RecallTargetThreshold float64        `json:"recall_target_threshold"`
	TargetRecall          float64        `json:"target_recall"`
	DurationMS            int64          `json:"duration_ms"`
	Params                l5model.Params `json:"params"`

	ROCAUC        float64 `json:"roc_auc"`
	ROCAUCDefined bool    `json:"roc_auc_defined"`
	F1            float64 `json:"f1"`
}

// RecordTrainingRun stores a run and its report in one transaction.
func (db *DB) RecordTrainingRun(ctx context.Context, a *l7serving.Artifact, r *l6eval.Report, artifactPath string) error {
	params, err := json.Marshal(a.Training.Params)
	if err != nil {
		return err
	}
	report, err := json.Marshal(r)
	if err != nil {
		return err
	}
	sweep, err := json.Marshal(r.Sweep)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO training_runs (
			model_version, created_at, data_path, artifact_path, build_version,
			samples, vehicles, windows, positives, window_size, step_size,
			sampling_rate, balanced_threshold, recall_target_threshold,
			target_recall, duration_ms, params_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ModelVersion, a.CreatedAt.UTC().Format(createdAtLayout), a.Training.DataPath, artifactPath, a.BuildVersion,
		a.Training.Samples, a.Training.Vehicles, a.Training.Windows, a.Training.Positives, a.WindowSize, a.StepSize,
		a.SamplingRate, a.BalancedThreshold, a.RecallTargetThreshold,
		a.TargetRecall, a.Training.DurationMS, string(params),
	)
	if err != nil {
		return fmt.Errorf("failed to insert training run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluation_reports (
			model_version, roc_auc, roc_auc_defined, accuracy,
			precision_score, recall_score, f1_score, report_json, sweep_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ModelVersion, r.ROCAUC, r.ROCAUCDefined, r.Accuracy,
		r.Precision, r.Recall, r.F1, string(report), string(sweep),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation report: %w", err)
	}
	return tx.Commit()
}

const runColumns = `
	t.model_version, t.created_at, t.data_path, t.artifact_path, t.build_version,
	t.samples, t.vehicles, t.windows, t.positives, t.window_size, t.step_size,
	t.sampling_rate, t.balanced_threshold, t.recall_target_threshold,
	t.target_recall, t.duration_ms, t.params_json,
	COALESCE(e.roc_auc, 0), COALESCE(e.roc_auc_defined, 0), COALESCE(e.f1_score, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*TrainingRun, error) {
	var (
		run       TrainingRun
		createdAt string
		params    string
	)
	err := row.Scan(
		&run.ModelVersion, &createdAt, &run.DataPath, &run.ArtifactPath, &run.BuildVersion,
		&run.Samples, &run.Vehicles, &run.Windows, &run.Positives, &run.WindowSize, &run.StepSize,
		&run.SamplingRate, &run.BalancedThreshold, &run.RecallTargetThreshold,
		&run.TargetRecall, &run.DurationMS, &params,
		&run.ROCAUC, &run.ROCAUCDefined, &run.F1,
	)
	if err != nil {
		return nil, err
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM training_runs t
		LEFT JOIN evaluation_reports e ON e.model_version = t.model_version
		ORDER BY t.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns a run by model version.
func (db *DB) GetRun(ctx context.Context, modelVersion string) (*TrainingRun, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+`
		FROM training_runs t
		LEFT JOIN evaluation_reports e ON e.model_version = t.model_version
		WHERE t.model_version = ?`, modelVersion)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", modelVersion, ErrNotFound)
	}
	return run, err
}

// GetReport reloads the stored evaluation report including its threshold
// sweep.
func (db *DB) GetReport(ctx context.Context, modelVersion string) (*l6eval.Report, error) {
	var report, sweep string
	err := db.QueryRowContext(ctx,
		`SELECT report_json, sweep_json FROM evaluation_reports WHERE model_version = ?`,
		modelVersion,
	).Scan(&report, &sweep)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", modelVersion, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var r l6eval.Report
	if err := json.Unmarshal([]byte(report), &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if err := json.Unmarshal([]byte(sweep), &r.Sweep); err != nil {
		return nil, fmt.Errorf("failed to decode sweep: %w", err)
	}
	return &r, nil
}

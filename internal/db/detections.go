package db

import (
	"context"

	"github.com/banshee-data/impact.report/internal/impact/l7serving"
)

// RecordDetection stores a window classified as an accident for audit.
// Negative windows are not recorded.
func (db *DB) RecordDetection(ctx context.Context, r l7serving.Result) error {
	if !r.IsAccident {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO detections (
			vehicle_id, window_index, start_ts, end_ts, probability,
			is_accident, threshold, policy, model_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.VehicleID, r.WindowIndex, r.StartTS, r.EndTS, r.Probability,
		r.IsAccident, r.Threshold, r.Policy, r.ModelVersion,
	)
	return err
}

// DetectionFilter narrows ListDetections. Zero values match everything.
type DetectionFilter struct {
	VehicleID     string
	AccidentsOnly bool
	Limit         int
}

// ListDetections returns detections newest window first.
func (db *DB) ListDetections(ctx context.Context, f DetectionFilter) ([]l7serving.Result, error) {
	if f.Limit <= 0 {
		f.Limit = 500
	}
	query := `SELECT vehicle_id, window_index, start_ts, end_ts, probability,
		is_accident, threshold, policy, model_version
		FROM detections WHERE 1=1`
	var args []any
	if f.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, f.VehicleID)
	}
	if f.AccidentsOnly {
		query += ` AND is_accident = 1`
	}
	query += ` ORDER BY start_ts DESC, detection_id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []l7serving.Result
	for rows.Next() {
		var r l7serving.Result
		if err := rows.Scan(
			&r.VehicleID, &r.WindowIndex, &r.StartTS, &r.EndTS, &r.Probability,
			&r.IsAccident, &r.Threshold, &r.Policy, &r.ModelVersion,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/cropwatch/internal/models"
)

// SaveResult persists an analysis result and returns its generated id.
func (s *Store) SaveResult(r *models.TimeSeriesResult) (string, error) {
	if r == nil {
		return "", fmt.Errorf("nil result")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO analysis_results (id, field_id, period_start, period_end, overall_trend, stress_level,
			growth_stage, predicted_yield, hotspot_count, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, r.FieldID, r.Period.Start.UTC().Format(dateLayout), r.Period.End.UTC().Format(dateLayout),
		r.Trends.OverallTrend, r.WaterStress.StressLevel, string(r.GrowthStage), r.YieldPrediction.PredictedYield,
		len(r.Hotspots), string(payload), time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

const resultColumns = `id, field_id, period_start, period_end, overall_trend, stress_level, growth_stage,
	predicted_yield, hotspot_count, result_json, created_at`

func scanResult(row interface{ Scan(...any) error }) (*models.StoredResult, error) {
	var (
		sr         models.StoredResult
		start, end string
		payload    string
	)
	if err := row.Scan(&sr.ID, &sr.FieldID, &start, &end, &sr.OverallTrend, &sr.StressLevel, &sr.GrowthStage,
		&sr.PredictedYield, &sr.HotspotCount, &payload, &sr.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if sr.PeriodStart, err = time.Parse(dateLayout, start); err != nil {
		return nil, fmt.Errorf("parse period start: %w", err)
	}
	if sr.PeriodEnd, err = time.Parse(dateLayout, end); err != nil {
		return nil, fmt.Errorf("parse period end: %w", err)
	}
	sr.Result = &models.TimeSeriesResult{}
	if err := json.Unmarshal([]byte(payload), sr.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", sr.ID, err)
	}
	return &sr, nil
}

// GetLatestResult returns nil when the field has no stored results.
func (s *Store) GetLatestResult(fieldID string) (*models.StoredResult, error) {
	sr, err := scanResult(s.db.QueryRow(`
		SELECT `+resultColumns+`
		FROM analysis_results
		WHERE field_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, fieldID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sr, err
}

// ListResults returns up to limit results for a field, newest first.
func (s *Store) ListResults(fieldID string, limit int) ([]models.StoredResult, error) {
	rows, err := s.db.Query(`
		SELECT `+resultColumns+`
		FROM analysis_results
		WHERE field_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, fieldID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.StoredResult
	for rows.Next() {
		sr, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *sr)
	}
	return results, rows.Err()
}

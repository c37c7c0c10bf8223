package store

import (
	"database/sql"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

// StartIngestRun records the start of one provider fetch for one field and index.
func (s *Store) StartIngestRun(source, fieldID string, index models.IndexKind) (*models.IngestRun, error) {
	run := &models.IngestRun{
		Source:    source,
		FieldID:   fieldID,
		Index:     index,
		StartedAt: time.Now().UTC(),
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (source, field_id, index_kind, started_at, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.Source, run.FieldID, string(run.Index), run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *models.IngestRun) error {
	if run == nil {
		return nil
	}

	run.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			completed_at = ?,
			success = ?,
			records_parsed = ?,
			records_stored = ?,
			error_message = ?
		WHERE id = ?
	`, run.CompletedAt, run.Success, run.RecordsParsed, run.RecordsStored, run.ErrorMessage, run.ID)
	return err
}

type IngestHealthSummary struct {
	Date         string `json:"date"`
	Source       string `json:"source"`
	Index        string `json:"index"`
	TotalRuns    int    `json:"total_runs"`
	SuccessRuns  int    `json:"success_runs"`
	FailedRuns   int    `json:"failed_runs"`
	TotalRecords int64  `json:"total_records"`
}

// GetIngestHealth returns per-day ingest summaries for the last N days.
func (s *Store) GetIngestHealth(days int) ([]IngestHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			index_kind,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(records_stored), 0) as total_records
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source, index_kind
		ORDER BY date DESC, source, index_kind
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.Index, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.TotalRecords); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]models.IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, field_id, index_kind, started_at, completed_at,
			   success, records_parsed, records_stored, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.IngestRun
	for rows.Next() {
		var (
			r     models.IngestRun
			index string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.FieldID, &index, &r.StartedAt, &r.CompletedAt,
			&r.Success, &r.RecordsParsed, &r.RecordsStored, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Index = models.IndexKind(index)
		results = append(results, r)
	}
	return results, rows.Err()
}

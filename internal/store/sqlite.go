package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

// dateLayout is how calendar dates are stored so range queries compare lexically.
const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertField(f models.Field) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO fields (field_id, name, crop, latitude, longitude, area_ha, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(field_id) DO UPDATE SET
			name = excluded.name,
			crop = excluded.crop,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			area_ha = excluded.area_ha,
			active = excluded.active
	`, f.FieldID, f.Name, f.Crop, f.Latitude, f.Longitude, f.AreaHa, f.Active, f.CreatedAt.UTC())
	return err
}

const fieldColumns = `field_id, name, crop, latitude, longitude, area_ha, active, created_at`

func scanField(row interface{ Scan(...any) error }) (models.Field, error) {
	var f models.Field
	err := row.Scan(&f.FieldID, &f.Name, &f.Crop, &f.Latitude, &f.Longitude, &f.AreaHa, &f.Active, &f.CreatedAt)
	return f, err
}

// GetField returns nil when the field does not exist.
func (s *Store) GetField(fieldID string) (*models.Field, error) {
	f, err := scanField(s.db.QueryRow(`SELECT `+fieldColumns+` FROM fields WHERE field_id = ?`, fieldID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetActiveFields() ([]models.Field, error) {
	return s.queryFields(`SELECT ` + fieldColumns + ` FROM fields WHERE active = TRUE ORDER BY field_id`)
}

func (s *Store) ListFields() ([]models.Field, error) {
	return s.queryFields(`SELECT ` + fieldColumns + ` FROM fields ORDER BY field_id`)
}

func (s *Store) queryFields(query string, args ...any) ([]models.Field, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []models.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// InsertIndexPoints upserts points for one field and index, replacing any
// value already stored for the same date. Returns the number of rows written.
func (s *Store) InsertIndexPoints(fieldID string, index models.IndexKind, source string, points []models.IndexPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO index_points (field_id, index_kind, obs_date, value, cloud_coverage, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(field_id, index_kind, obs_date) DO UPDATE SET
			value = excluded.value,
			cloud_coverage = excluded.cloud_coverage,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	stored := 0
	for _, p := range points {
		if _, err := stmt.Exec(fieldID, string(index), p.Date.UTC().Format(dateLayout), p.Value, p.CloudCoverage, source, now); err != nil {
			return 0, fmt.Errorf("insert %s %s: %w", index, p.Date.Format(dateLayout), err)
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// GetIndexPoints returns stored points with start <= date <= end, ascending.
func (s *Store) GetIndexPoints(fieldID string, index models.IndexKind, start, end time.Time) ([]models.IndexPoint, error) {
	rows, err := s.db.Query(`
		SELECT obs_date, value, cloud_coverage
		FROM index_points
		WHERE field_id = ? AND index_kind = ? AND obs_date >= ? AND obs_date <= ?
		ORDER BY obs_date
	`, fieldID, string(index), start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.IndexPoint
	for rows.Next() {
		var (
			date string
			p    models.IndexPoint
		)
		if err := rows.Scan(&date, &p.Value, &p.CloudCoverage); err != nil {
			return nil, err
		}
		if p.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", date, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetLatestIndexDate returns the newest stored date for a field and index,
// or the zero time when nothing is stored.
func (s *Store) GetLatestIndexDate(fieldID string, index models.IndexKind) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(obs_date) FROM index_points WHERE field_id = ? AND index_kind = ?`, fieldID, string(index)).Scan(&date)
	if err != nil || !date.Valid {
		return time.Time{}, err
	}
	return time.Parse(dateLayout, date.String)
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/veloview/timeline-backend-go/internal/models"
)

// ProcessedVisitRepository handles database operations for the canonical
// visit timeline
type ProcessedVisitRepository struct {
	db *sql.DB
}

// NewProcessedVisitRepository creates a new processed visit repository
func NewProcessedVisitRepository(db *sql.DB) *ProcessedVisitRepository {
	return &ProcessedVisitRepository{db: db}
}

// Insert stores a new processed visit and fills in its id.
func (r *ProcessedVisitRepository) Insert(v *models.ProcessedVisit) error {
	res, err := r.db.Exec(`
		INSERT INTO processed_visits (user_id, place_id, start_time, end_time, duration_seconds, version)
		VALUES (?, ?, ?, ?, ?, 1)`,
		v.UserID, v.PlaceID, v.StartTime.Unix(), v.EndTime.Unix(), v.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert processed visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	v.ID = id
	v.Version = 1
	return nil
}

// FindByID returns a single processed visit or ErrNotFound.
func (r *ProcessedVisitRepository) FindByID(id int64) (*models.ProcessedVisit, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, place_id, start_time, end_time, duration_seconds, version
		FROM processed_visits WHERE id = ?`, id)
	var v models.ProcessedVisit
	var start, end int64
	err := row.Scan(&v.ID, &v.UserID, &v.PlaceID, &start, &end, &v.DurationSeconds, &v.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query processed visit: %w", err)
	}
	v.StartTime = time.Unix(start, 0).UTC()
	v.EndTime = time.Unix(end, 0).UTC()
	return &v, nil
}

// FindOverlapping returns all processed visits of a user whose range
// intersects [start, end], ordered by start time.
func (r *ProcessedVisitRepository) FindOverlapping(userID string, start, end time.Time) ([]models.ProcessedVisit, error) {
	return r.query(`
		SELECT id, user_id, place_id, start_time, end_time, duration_seconds, version
		FROM processed_visits
		WHERE user_id = ? AND start_time <= ? AND end_time >= ?
		ORDER BY start_time`,
		userID, end.Unix(), start.Unix())
}

// FindInRange returns processed visits starting within [from, to], ordered
// by start time, with their places joined.
func (r *ProcessedVisitRepository) FindInRange(userID string, from, to time.Time) ([]models.ProcessedVisit, error) {
	rows, err := r.db.Query(`
		SELECT v.id, v.user_id, v.place_id, v.start_time, v.end_time, v.duration_seconds, v.version,
		       p.id, p.user_id, p.name, p.address, p.latitude_centroid, p.longitude_centroid, p.geocoded, p.version
		FROM processed_visits v
		JOIN significant_places p ON p.id = v.place_id
		WHERE v.user_id = ? AND v.start_time >= ? AND v.start_time <= ?
		ORDER BY v.start_time`,
		userID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query processed visits: %w", err)
	}
	defer rows.Close()

	var visits []models.ProcessedVisit
	for rows.Next() {
		var v models.ProcessedVisit
		var p models.SignificantPlace
		var start, end int64
		var geocoded int
		if err := rows.Scan(&v.ID, &v.UserID, &v.PlaceID, &start, &end, &v.DurationSeconds, &v.Version,
			&p.ID, &p.UserID, &p.Name, &p.Address, &p.Latitude, &p.Longitude, &geocoded, &p.Version); err != nil {
			return nil, fmt.Errorf("failed to scan processed visit: %w", err)
		}
		v.StartTime = time.Unix(start, 0).UTC()
		v.EndTime = time.Unix(end, 0).UTC()
		p.Geocoded = geocoded != 0
		v.Place = &p
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

// DeleteVersioned removes a processed visit, failing with ErrOptimisticLock
// when the stored version no longer matches.
func (r *ProcessedVisitRepository) DeleteVersioned(id, version int64) error {
	res, err := r.db.Exec("DELETE FROM processed_visits WHERE id = ? AND version = ?", id, version)
	if err != nil {
		return fmt.Errorf("failed to delete processed visit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *ProcessedVisitRepository) query(query string, args ...interface{}) ([]models.ProcessedVisit, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed visits: %w", err)
	}
	defer rows.Close()

	var visits []models.ProcessedVisit
	for rows.Next() {
		var v models.ProcessedVisit
		var start, end int64
		if err := rows.Scan(&v.ID, &v.UserID, &v.PlaceID, &start, &end, &v.DurationSeconds, &v.Version); err != nil {
			return nil, fmt.Errorf("failed to scan processed visit: %w", err)
		}
		v.StartTime = time.Unix(start, 0).UTC()
		v.EndTime = time.Unix(end, 0).UTC()
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

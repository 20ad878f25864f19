package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/veloview/timeline-backend-go/internal/models"
)

// VisitRepository handles database operations for detected visits
type VisitRepository struct {
	db *sql.DB
}

// NewVisitRepository creates a new visit repository
func NewVisitRepository(db *sql.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Insert stores a new visit and fills in its id.
func (r *VisitRepository) Insert(v *models.Visit) error {
	res, err := r.db.Exec(`
		INSERT INTO visits (user_id, latitude, longitude, start_time, end_time, duration_seconds, processed, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		v.UserID, v.Latitude, v.Longitude, v.StartTime.Unix(), v.EndTime.Unix(), v.DurationSeconds, boolToInt(v.Processed))
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	v.ID = id
	v.Version = 1
	return nil
}

// FindByID returns a single visit or ErrNotFound.
func (r *VisitRepository) FindByID(id int64) (*models.Visit, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, latitude, longitude, start_time, end_time, duration_seconds, processed, version
		FROM visits WHERE id = ?`, id)
	v, err := scanVisit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query visit: %w", err)
	}
	return v, nil
}

// FindOverlapping returns all visits of a user whose time range intersects
// [start, end], ordered by start time.
func (r *VisitRepository) FindOverlapping(userID string, start, end time.Time) ([]models.Visit, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, latitude, longitude, start_time, end_time, duration_seconds, processed, version
		FROM visits
		WHERE user_id = ? AND start_time <= ? AND end_time >= ?
		ORDER BY start_time`,
		userID, end.Unix(), start.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping visits: %w", err)
	}
	defer rows.Close()
	return scanVisits(rows)
}

// DeleteVersioned removes a visit, failing with ErrOptimisticLock when the
// stored version no longer matches.
func (r *VisitRepository) DeleteVersioned(id, version int64) error {
	res, err := r.db.Exec("DELETE FROM visits WHERE id = ? AND version = ?", id, version)
	if err != nil {
		return fmt.Errorf("failed to delete visit: %w", err)
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

// MarkProcessed flags the given visits as consumed by the merger.
func (r *VisitRepository) MarkProcessed(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := "UPDATE visits SET processed = 1, version = version + 1 WHERE id IN (" + placeholders(len(ids)) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to mark visits processed: %w", err)
	}
	return nil
}

func scanVisit(row *sql.Row) (*models.Visit, error) {
	var v models.Visit
	var start, end int64
	var processed int
	if err := row.Scan(&v.ID, &v.UserID, &v.Latitude, &v.Longitude, &start, &end, &v.DurationSeconds, &processed, &v.Version); err != nil {
		return nil, err
	}
	v.StartTime = time.Unix(start, 0).UTC()
	v.EndTime = time.Unix(end, 0).UTC()
	v.Processed = processed != 0
	return &v, nil
}

func scanVisits(rows *sql.Rows) ([]models.Visit, error) {
	var visits []models.Visit
	for rows.Next() {
		var v models.Visit
		var start, end int64
		var processed int
		if err := rows.Scan(&v.ID, &v.UserID, &v.Latitude, &v.Longitude, &start, &end, &v.DurationSeconds, &processed, &v.Version); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		v.StartTime = time.Unix(start, 0).UTC()
		v.EndTime = time.Unix(end, 0).UTC()
		v.Processed = processed != 0
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

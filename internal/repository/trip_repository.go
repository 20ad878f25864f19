package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/veloview/timeline-backend-go/internal/models"
)

// TripRepository handles database operations for trips
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

// Insert stores a new trip and fills in its id.
func (r *TripRepository) Insert(t *models.Trip) error {
	res, err := r.db.Exec(`
		INSERT INTO trips (user_id, start_time, end_time, duration_seconds,
			estimated_distance_meters, travelled_distance_meters, transport_mode,
			start_visit_id, end_visit_id, start_place_id, end_place_id, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		t.UserID, t.StartTime.Unix(), t.EndTime.Unix(), t.DurationSeconds,
		t.EstimatedDistanceMeters, t.TravelledDistanceMeters, t.TransportMode,
		t.StartVisitID, t.EndVisitID, t.StartPlaceID, t.EndPlaceID)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	t.ID = id
	t.Version = 1
	return nil
}

// Exists reports whether a trip with the exact user/start/end already exists.
func (r *TripRepository) Exists(userID string, start, end time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM trips WHERE user_id = ? AND start_time = ? AND end_time = ?",
		userID, start.Unix(), end.Unix()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check trip existence: %w", err)
	}
	return count > 0, nil
}

// FindByUser returns all trips of a user ordered by start time.
func (r *TripRepository) FindByUser(userID string) ([]models.Trip, error) {
	return r.query(`
		SELECT id, user_id, start_time, end_time, duration_seconds,
			estimated_distance_meters, travelled_distance_meters, transport_mode,
			start_visit_id, end_visit_id, start_place_id, end_place_id, version
		FROM trips WHERE user_id = ? ORDER BY start_time`, userID)
}

// FindInRange returns trips starting within [from, to], ordered by start time.
func (r *TripRepository) FindInRange(userID string, from, to time.Time) ([]models.Trip, error) {
	return r.query(`
		SELECT id, user_id, start_time, end_time, duration_seconds,
			estimated_distance_meters, travelled_distance_meters, transport_mode,
			start_visit_id, end_visit_id, start_place_id, end_place_id, version
		FROM trips
		WHERE user_id = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time`, userID, from.Unix(), to.Unix())
}

// DeleteVersioned removes a trip, failing with ErrOptimisticLock when the
// stored version no longer matches.
func (r *TripRepository) DeleteVersioned(id, version int64) error {
	res, err := r.db.Exec("DELETE FROM trips WHERE id = ? AND version = ?", id, version)
	if err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
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

func (r *TripRepository) query(query string, args ...interface{}) ([]models.Trip, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		var t models.Trip
		var start, end int64
		if err := rows.Scan(&t.ID, &t.UserID, &start, &end, &t.DurationSeconds,
			&t.EstimatedDistanceMeters, &t.TravelledDistanceMeters, &t.TransportMode,
			&t.StartVisitID, &t.EndVisitID, &t.StartPlaceID, &t.EndPlaceID, &t.Version); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.StartTime = time.Unix(start, 0).UTC()
		t.EndTime = time.Unix(end, 0).UTC()
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

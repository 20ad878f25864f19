package repository

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/spatial"
)

// PlaceRepository handles database operations for significant places
type PlaceRepository struct {
	db *sql.DB
}

// NewPlaceRepository creates a new place repository
func NewPlaceRepository(db *sql.DB) *PlaceRepository {
	return &PlaceRepository{db: db}
}

// Insert stores a new place and fills in its id.
func (r *PlaceRepository) Insert(p *models.SignificantPlace) error {
	res, err := r.db.Exec(`
		INSERT INTO significant_places (user_id, name, address, latitude_centroid, longitude_centroid, geocoded, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		p.UserID, p.Name, p.Address, p.Latitude, p.Longitude, boolToInt(p.Geocoded))
	if err != nil {
		return fmt.Errorf("failed to insert place: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read insert id: %w", err)
	}
	p.ID = id
	p.Version = 1
	return nil
}

// FindByID returns a single place or ErrNotFound.
func (r *PlaceRepository) FindByID(id int64) (*models.SignificantPlace, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, name, address, latitude_centroid, longitude_centroid, geocoded, version
		FROM significant_places WHERE id = ?`, id)
	p, err := scanPlaceRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query place: %w", err)
	}
	return p, nil
}

// FindNearby returns the user's places within radiusMeters of the given
// coordinate, closest first. A latitude bounding box narrows the candidate
// set before the exact distance check.
func (r *PlaceRepository) FindNearby(userID string, lat, lon, radiusMeters float64) ([]models.SignificantPlace, error) {
	latEps, _ := spatial.MetersToDegrees(radiusMeters, lat)
	rows, err := r.db.Query(`
		SELECT id, user_id, name, address, latitude_centroid, longitude_centroid, geocoded, version
		FROM significant_places
		WHERE user_id = ? AND latitude_centroid BETWEEN ? AND ?`,
		userID, lat-latEps, lat+latEps)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby places: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		place models.SignificantPlace
		dist  float64
	}
	var candidates []candidate
	for rows.Next() {
		var p models.SignificantPlace
		var geocoded int
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Address, &p.Latitude, &p.Longitude, &geocoded, &p.Version); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		p.Geocoded = geocoded != 0
		d := spatial.HaversineDistance(lat, lon, p.Latitude, p.Longitude)
		if d <= radiusMeters {
			candidates = append(candidates, candidate{place: p, dist: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	places := make([]models.SignificantPlace, len(candidates))
	for i, c := range candidates {
		places[i] = c.place
	}
	return places, nil
}

// UpdateVersioned writes name, address and geocoded state, failing with
// ErrOptimisticLock when the stored version no longer matches. On success
// the place's version is advanced in place.
func (r *PlaceRepository) UpdateVersioned(p *models.SignificantPlace) error {
	res, err := r.db.Exec(`
		UPDATE significant_places
		SET name = ?, address = ?, geocoded = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Name, p.Address, boolToInt(p.Geocoded), p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update place: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOptimisticLock
	}
	p.Version++
	return nil
}

func scanPlaceRow(row *sql.Row) (*models.SignificantPlace, error) {
	var p models.SignificantPlace
	var geocoded int
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Address, &p.Latitude, &p.Longitude, &geocoded, &p.Version); err != nil {
		return nil, err
	}
	p.Geocoded = geocoded != 0
	return &p, nil
}

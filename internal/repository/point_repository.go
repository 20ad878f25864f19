package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/veloview/timeline-backend-go/internal/models"
	"github.com/veloview/timeline-backend-go/internal/spatial"
)

// PointRepository handles database operations for raw location points
type PointRepository struct {
	db *sql.DB
}

// NewPointRepository creates a new point repository
func NewPointRepository(db *sql.DB) *PointRepository {
	return &PointRepository{db: db}
}

// Insert stores a single point. Returns false without error when a point
// with the same user and timestamp already exists.
func (r *PointRepository) Insert(p *models.RawPoint) (bool, error) {
	res, err := r.db.Exec(`
		INSERT OR IGNORE INTO raw_points (user_id, timestamp, latitude, longitude, accuracy_meters, processed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Timestamp.Unix(), p.Latitude, p.Longitude, p.AccuracyMeters, boolToInt(p.Processed))
	if err != nil {
		return false, fmt.Errorf("failed to insert raw point: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to read insert id: %w", err)
	}
	p.ID = id
	return true, nil
}

// FindInRange returns all points of a user within [from, to], ordered by timestamp.
func (r *PointRepository) FindInRange(userID string, from, to time.Time) ([]models.RawPoint, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, timestamp, latitude, longitude, accuracy_meters, processed
		FROM raw_points
		WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`,
		userID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query raw points: %w", err)
	}
	defer rows.Close()
	return scanPoints(rows)
}

// FindBetweenExclusive returns points strictly between from and to, ordered
// by timestamp. Used for travelled-distance computations.
func (r *PointRepository) FindBetweenExclusive(userID string, from, to time.Time) ([]models.RawPoint, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, timestamp, latitude, longitude, accuracy_meters, processed
		FROM raw_points
		WHERE user_id = ? AND timestamp > ? AND timestamp < ?
		ORDER BY timestamp`,
		userID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query raw points: %w", err)
	}
	defer rows.Close()
	return scanPoints(rows)
}

// FindUnprocessed returns up to limit unprocessed points for a user,
// oldest first.
func (r *PointRepository) FindUnprocessed(userID string, limit int) ([]models.RawPoint, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, timestamp, latitude, longitude, accuracy_meters, processed
		FROM raw_points
		WHERE user_id = ? AND processed = 0
		ORDER BY timestamp
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed points: %w", err)
	}
	defer rows.Close()
	return scanPoints(rows)
}

// MarkProcessed flags the given points as consumed by stay detection.
func (r *PointRepository) MarkProcessed(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := "UPDATE raw_points SET processed = 1 WHERE id IN (" + placeholders(len(ids)) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to mark points processed: %w", err)
	}
	return nil
}

// UsersWithUnprocessed returns the ids of all users that have points the
// pipeline has not consumed yet.
func (r *PointRepository) UsersWithUnprocessed() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT user_id FROM raw_points WHERE processed = 0")
	if err != nil {
		return nil, fmt.Errorf("failed to query users with unprocessed points: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ClusteredPointsInRange loads the user's points in [from, to] and groups
// them into spatial clusters: a point joins the first cluster whose running
// centroid lies within searchDistanceMeters (converted to degrees at the
// centroid latitude). Clusters smaller than minNeighbors are dropped.
func (r *PointRepository) ClusteredPointsInRange(userID string, from, to time.Time, searchDistanceMeters float64, minNeighbors int) ([][]models.RawPoint, error) {
	points, err := r.FindInRange(userID, from, to)
	if err != nil {
		return nil, err
	}

	type cluster struct {
		points []models.RawPoint
		latSum float64
		lonSum float64
	}

	var clusters []*cluster
	for _, p := range points {
		var home *cluster
		for _, c := range clusters {
			n := float64(len(c.points))
			centLat, centLon := c.latSum/n, c.lonSum/n
			// Radius check runs in degree space with the epsilon
			// converted at the cluster's latitude.
			latEps, lonEps := spatial.MetersToDegrees(searchDistanceMeters, centLat)
			dLat := (p.Latitude - centLat) / latEps
			dLon := (p.Longitude - centLon) / lonEps
			if dLat*dLat+dLon*dLon <= 1 {
				home = c
				break
			}
		}
		if home == nil {
			home = &cluster{}
			clusters = append(clusters, home)
		}
		home.points = append(home.points, p)
		home.latSum += p.Latitude
		home.lonSum += p.Longitude
	}

	var result [][]models.RawPoint
	for _, c := range clusters {
		if len(c.points) >= minNeighbors {
			result = append(result, c.points)
		}
	}
	return result, nil
}

func scanPoints(rows *sql.Rows) ([]models.RawPoint, error) {
	var points []models.RawPoint
	for rows.Next() {
		var p models.RawPoint
		var ts int64
		var processed int
		if err := rows.Scan(&p.ID, &p.UserID, &ts, &p.Latitude, &p.Longitude, &p.AccuracyMeters, &processed); err != nil {
			return nil, fmt.Errorf("failed to scan raw point: %w", err)
		}
		p.Timestamp = time.Unix(ts, 0).UTC()
		p.Processed = processed != 0
		points = append(points, p)
	}
	return points, rows.Err()
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ",?"
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

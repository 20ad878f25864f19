package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloview/timeline-backend-go/internal/database"
	"github.com/veloview/timeline-backend-go/internal/models"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPointInsertDeduplicates(t *testing.T) {
	db := testDB(t)
	repo := NewPointRepository(db)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &models.RawPoint{UserID: "alice", Timestamp: ts, Latitude: 60.0, Longitude: 25.0, AccuracyMeters: 10}

	inserted, err := repo.Insert(p)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, p.ID)

	dup := &models.RawPoint{UserID: "alice", Timestamp: ts, Latitude: 60.0, Longitude: 25.0, AccuracyMeters: 10}
	inserted, err = repo.Insert(dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	points, err := repo.FindInRange("alice", ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestPointUnprocessedLifecycle(t *testing.T) {
	db := testDB(t)
	repo := NewPointRepository(db)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		p := &models.RawPoint{UserID: "bob", Timestamp: base.Add(time.Duration(i) * time.Minute), Latitude: 60, Longitude: 25}
		_, err := repo.Insert(p)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	users, err := repo.UsersWithUnprocessed()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)

	unprocessed, err := repo.FindUnprocessed("bob", 2)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2)

	require.NoError(t, repo.MarkProcessed(ids))

	unprocessed, err = repo.FindUnprocessed("bob", 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestClusteredPointsInRange(t *testing.T) {
	db := testDB(t)
	repo := NewPointRepository(db)

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	// 5 points tightly packed at A, 2 outliers far away
	for i := 0; i < 5; i++ {
		_, err := repo.Insert(&models.RawPoint{
			UserID: "carol", Timestamp: base.Add(time.Duration(i) * time.Minute),
			Latitude: 60.0 + float64(i)*0.0001, Longitude: 25.0, AccuracyMeters: 10,
		})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := repo.Insert(&models.RawPoint{
			UserID: "carol", Timestamp: base.Add(time.Duration(10+i) * time.Minute),
			Latitude: 61.0, Longitude: 26.0, AccuracyMeters: 10,
		})
		require.NoError(t, err)
	}

	clusters, err := repo.ClusteredPointsInRange("carol", base.Add(-time.Hour), base.Add(time.Hour), 100, 5)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0], 5)
}

func TestVisitVersionedDelete(t *testing.T) {
	db := testDB(t)
	repo := NewVisitRepository(db)

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	v := &models.Visit{UserID: "dave", Latitude: 60, Longitude: 25, StartTime: start, EndTime: start.Add(time.Hour), DurationSeconds: 3600}
	require.NoError(t, repo.Insert(v))

	err := repo.DeleteVersioned(v.ID, v.Version+1)
	assert.ErrorIs(t, err, ErrOptimisticLock)

	require.NoError(t, repo.DeleteVersioned(v.ID, v.Version))

	_, err = repo.FindByID(v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisitFindOverlapping(t *testing.T) {
	db := testDB(t)
	repo := NewVisitRepository(db)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mk := func(startOffset, endOffset time.Duration) {
		v := &models.Visit{UserID: "erin", Latitude: 60, Longitude: 25,
			StartTime: base.Add(startOffset), EndTime: base.Add(endOffset),
			DurationSeconds: int64((endOffset - startOffset).Seconds())}
		require.NoError(t, repo.Insert(v))
	}
	mk(0, time.Hour)
	mk(2*time.Hour, 3*time.Hour)
	mk(10*time.Hour, 11*time.Hour)

	overlapping, err := repo.FindOverlapping("erin", base.Add(30*time.Minute), base.Add(150*time.Minute))
	require.NoError(t, err)
	assert.Len(t, overlapping, 2)
}

func TestPlaceNearbyAndVersionedUpdate(t *testing.T) {
	db := testDB(t)
	repo := NewPlaceRepository(db)

	near := &models.SignificantPlace{UserID: "fred", Latitude: 60.0, Longitude: 25.0}
	far := &models.SignificantPlace{UserID: "fred", Latitude: 60.5, Longitude: 25.5}
	require.NoError(t, repo.Insert(near))
	require.NoError(t, repo.Insert(far))

	places, err := repo.FindNearby("fred", 60.0002, 25.0, 100)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, near.ID, places[0].ID)

	places[0].Name = "Home"
	places[0].Geocoded = true
	require.NoError(t, repo.UpdateVersioned(&places[0]))
	assert.Equal(t, int64(2), places[0].Version)

	stale := *near // still version 1
	stale.Name = "stale write"
	assert.ErrorIs(t, repo.UpdateVersioned(&stale), ErrOptimisticLock)
}

func TestTripExistsAndDelete(t *testing.T) {
	db := testDB(t)
	repo := NewTripRepository(db)

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	trip := &models.Trip{UserID: "gina", StartTime: start, EndTime: start.Add(30 * time.Minute),
		DurationSeconds: 1800, TransportMode: models.TransportModeDriving}
	require.NoError(t, repo.Insert(trip))

	exists, err := repo.Exists("gina", start, start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists("gina", start, start.Add(31*time.Minute))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, repo.DeleteVersioned(trip.ID, 99), ErrOptimisticLock)
	require.NoError(t, repo.DeleteVersioned(trip.ID, trip.Version))
}

func TestProcessedVisitJoinedRange(t *testing.T) {
	db := testDB(t)
	places := NewPlaceRepository(db)
	visits := NewProcessedVisitRepository(db)

	place := &models.SignificantPlace{UserID: "hana", Name: "Office", Latitude: 60, Longitude: 25}
	require.NoError(t, places.Insert(place))

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	v := &models.ProcessedVisit{UserID: "hana", PlaceID: place.ID, StartTime: start, EndTime: start.Add(8 * time.Hour), DurationSeconds: 8 * 3600}
	require.NoError(t, visits.Insert(v))

	got, err := visits.FindInRange("hana", start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Place)
	assert.Equal(t, "Office", got[0].Place.Name)
}

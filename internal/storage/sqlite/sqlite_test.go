package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitmon/internal/core"
	"pitmon/internal/storage"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testStart = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func makeSession(id string) *core.Session {
	return &core.Session{
		ID:          id,
		Name:        "Cook " + id,
		StartTime:   testStart,
		Status:      core.SessionStatusActive,
		DevicesUsed: []string{"D1:P1"},
		Version:     1,
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
}

func TestSQLite_CreateAndGetSession(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	session := makeSession("sess_a")
	session.MaxTemp = 230
	session.MinTemp = 180
	session.AvgTemp = 215.5
	session.SampleCount = 42
	session.LastReadingAt = testStart.Add(time.Hour)
	require.NoError(t, s.CreateSession(ctx, session))

	got, err := s.GetSession(ctx, "sess_a")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.Name, got.Name)
	assert.Equal(t, core.SessionStatusActive, got.Status)
	assert.True(t, got.StartTime.Equal(testStart))
	assert.Nil(t, got.EndTime)
	assert.Equal(t, 230.0, got.MaxTemp)
	assert.Equal(t, 180.0, got.MinTemp)
	assert.Equal(t, 215.5, got.AvgTemp)
	assert.Equal(t, 42, got.SampleCount)
	assert.False(t, got.Manual)
	assert.True(t, got.LastReadingAt.Equal(testStart.Add(time.Hour)))
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []string{"D1:P1"}, got.DevicesUsed)
}

func TestSQLite_GetSessionNotFound(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.GetSession(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestSQLite_UpdateSession(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	session := makeSession("sess_a")
	require.NoError(t, s.CreateSession(ctx, session))

	end := testStart.Add(3 * time.Hour)
	session.Name = "Brisket overnight"
	session.EndTime = &end
	session.Status = core.SessionStatusCompleted
	session.Type = core.SessionTypeSmoking
	session.DevicesUsed = []string{"D1:P1", "D1:P2"}
	session.Version = 5
	require.NoError(t, s.UpdateSession(ctx, session))

	got, err := s.GetSession(ctx, "sess_a")
	require.NoError(t, err)
	assert.Equal(t, "Brisket overnight", got.Name)
	assert.Equal(t, core.SessionStatusCompleted, got.Status)
	assert.Equal(t, core.SessionTypeSmoking, got.Type)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, []string{"D1:P1", "D1:P2"}, got.DevicesUsed)
}

func TestSQLite_UpdateSessionStaleVersionIsNoop(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	session := makeSession("sess_a")
	session.Version = 5
	require.NoError(t, s.CreateSession(ctx, session))

	stale := makeSession("sess_a")
	stale.Name = "Out of order write"
	stale.Version = 3
	require.NoError(t, s.UpdateSession(ctx, stale), "stale writes must not error")

	got, err := s.GetSession(ctx, "sess_a")
	require.NoError(t, err)
	assert.Equal(t, "Cook sess_a", got.Name)
	assert.Equal(t, int64(5), got.Version)
}

func TestSQLite_UpdateSessionNotFound(t *testing.T) {
	s := setupTestDB(t)

	err := s.UpdateSession(context.Background(), makeSession("sess_missing"))
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestSQLite_ListSessionsFilters(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	early := makeSession("sess_early")
	early.StartTime = testStart
	require.NoError(t, s.CreateSession(ctx, early))

	late := makeSession("sess_late")
	late.StartTime = testStart.Add(24 * time.Hour)
	late.Status = core.SessionStatusCompleted
	late.DevicesUsed = []string{"D2:P1"}
	require.NoError(t, s.CreateSession(ctx, late))

	// No filter: newest first
	all, err := s.ListSessions(ctx, storage.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sess_late", all[0].ID)
	assert.Equal(t, "sess_early", all[1].ID)

	// By status
	active, err := s.ListSessions(ctx, storage.SessionFilter{Status: core.SessionStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sess_early", active[0].ID)

	// By device key
	byDevice, err := s.ListSessions(ctx, storage.SessionFilter{DeviceKey: "D2:P1"})
	require.NoError(t, err)
	require.Len(t, byDevice, 1)
	assert.Equal(t, "sess_late", byDevice[0].ID)

	// By time range: From is inclusive, To exclusive
	from := testStart.Add(time.Hour)
	ranged, err := s.ListSessions(ctx, storage.SessionFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "sess_late", ranged[0].ID)

	to := testStart.Add(time.Hour)
	ranged, err = s.ListSessions(ctx, storage.SessionFilter{To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "sess_early", ranged[0].ID)

	// Combined filters narrow to nothing
	none, err := s.ListSessions(ctx, storage.SessionFilter{Status: core.SessionStatusCancelled})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_ListActiveSessions(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	active := makeSession("sess_active")
	require.NoError(t, s.CreateSession(ctx, active))

	done := makeSession("sess_done")
	done.Status = core.SessionStatusCompleted
	require.NoError(t, s.CreateSession(ctx, done))

	sessions, err := s.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess_active", sessions[0].ID)
}

func TestSQLite_DeleteSession(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, makeSession("sess_a")))
	require.NoError(t, s.DeleteSession(ctx, "sess_a"))

	_, err := s.GetSession(ctx, "sess_a")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	// Device memberships went with it
	byDevice, err := s.ListSessions(ctx, storage.SessionFilter{DeviceKey: "D1:P1"})
	require.NoError(t, err)
	assert.Empty(t, byDevice)

	assert.ErrorIs(t, s.DeleteSession(ctx, "sess_a"), core.ErrSessionNotFound)
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"pitmon/internal/core"
	"pitmon/internal/storage"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements storage.Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			status TEXT NOT NULL,
			session_type TEXT NOT NULL DEFAULT '',
			max_temp REAL NOT NULL DEFAULT 0,
			min_temp REAL NOT NULL DEFAULT 0,
			avg_temp REAL NOT NULL DEFAULT 0,
			sample_count INTEGER NOT NULL DEFAULT 0,
			manual INTEGER NOT NULL DEFAULT 0,
			last_reading_at DATETIME,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_devices (
			session_id TEXT NOT NULL,
			device_key TEXT NOT NULL,
			PRIMARY KEY (session_id, device_key),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
		CREATE INDEX IF NOT EXISTS idx_session_devices_key ON session_devices(device_key);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session record and its device memberships
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *core.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, name, start_time, end_time, status, session_type,
			max_temp, min_temp, avg_temp, sample_count, manual,
			last_reading_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Name,
		session.StartTime.UTC(),
		nullableTime(session.EndTime),
		string(session.Status),
		string(session.Type),
		session.MaxTemp,
		session.MinTemp,
		session.AvgTemp,
		session.SampleCount,
		session.Manual,
		zeroableTime(session.LastReadingAt),
		session.Version,
		session.CreatedAt.UTC(),
		session.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := replaceDevices(ctx, tx, session.ID, session.DevicesUsed); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateSession writes the session if the given version is newer than the
// stored one. A stale write (concurrent finalization already applied) is a
// silent no-op per the optimistic concurrency contract.
func (s *SQLiteStorage) UpdateSession(ctx context.Context, session *core.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			name = ?, start_time = ?, end_time = ?, status = ?, session_type = ?,
			max_temp = ?, min_temp = ?, avg_temp = ?, sample_count = ?, manual = ?,
			last_reading_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version < ?`,
		session.Name,
		session.StartTime.UTC(),
		nullableTime(session.EndTime),
		string(session.Status),
		string(session.Type),
		session.MaxTemp,
		session.MinTemp,
		session.AvgTemp,
		session.SampleCount,
		session.Manual,
		zeroableTime(session.LastReadingAt),
		session.Version,
		session.UpdatedAt.UTC(),
		session.ID,
		session.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM sessions WHERE id = ?", session.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if exists == 0 {
			return core.ErrSessionNotFound
		}
		// Stale version: a newer write already landed.
		return tx.Commit()
	}

	if err := replaceDevices(ctx, tx, session.ID, session.DevicesUsed); err != nil {
		return err
	}

	return tx.Commit()
}

// GetSession retrieves a session by ID
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx, selectSessionSQL+" WHERE id = ?", id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := s.loadDevices(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListActiveSessions retrieves all sessions with active status
func (s *SQLiteStorage) ListActiveSessions(ctx context.Context) ([]*core.Session, error) {
	return s.ListSessions(ctx, storage.SessionFilter{Status: core.SessionStatusActive})
}

// ListSessions retrieves sessions matching the filter, newest first
func (s *SQLiteStorage) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]*core.Session, error) {
	query := selectSessionSQL
	conds := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.DeviceKey != "" {
		conds = append(conds, "id IN (SELECT session_id FROM session_devices WHERE device_key = ?)")
		args = append(args, filter.DeviceKey)
	}
	if filter.From != nil {
		conds = append(conds, "start_time >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		conds = append(conds, "start_time < ?")
		args = append(args, filter.To.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*core.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	for _, session := range sessions {
		if err := s.loadDevices(ctx, session); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// DeleteSession removes a session and its device memberships
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

const selectSessionSQL = `
	SELECT id, name, start_time, end_time, status, session_type,
	       max_temp, min_temp, avg_temp, sample_count, manual,
	       last_reading_at, version, created_at, updated_at
	FROM sessions`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*core.Session, error) {
	var (
		session       core.Session
		status        string
		sessionType   string
		endTime       sql.NullTime
		lastReadingAt sql.NullTime
	)

	err := row.Scan(
		&session.ID,
		&session.Name,
		&session.StartTime,
		&endTime,
		&status,
		&sessionType,
		&session.MaxTemp,
		&session.MinTemp,
		&session.AvgTemp,
		&session.SampleCount,
		&session.Manual,
		&lastReadingAt,
		&session.Version,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = core.SessionStatus(status)
	session.Type = core.SessionType(sessionType)
	if endTime.Valid {
		t := endTime.Time
		session.EndTime = &t
	}
	if lastReadingAt.Valid {
		session.LastReadingAt = lastReadingAt.Time
	}
	return &session, nil
}

func (s *SQLiteStorage) loadDevices(ctx context.Context, session *core.Session) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_key FROM session_devices WHERE session_id = ? ORDER BY device_key", session.ID)
	if err != nil {
		return fmt.Errorf("failed to load session devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("failed to scan device key: %w", err)
		}
		session.DevicesUsed = append(session.DevicesUsed, key)
	}
	return rows.Err()
}

func replaceDevices(ctx context.Context, tx *sql.Tx, sessionID string, devices []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_devices WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear session devices: %w", err)
	}
	for _, key := range devices {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_devices (session_id, device_key) VALUES (?, ?)", sessionID, key); err != nil {
			return fmt.Errorf("failed to insert session device: %w", err)
		}
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func zeroableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

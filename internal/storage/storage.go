package storage

import (
	"context"
	"pitmon/internal/core"
	"time"
)

// SessionFilter narrows ListSessions results. Zero values mean "no filter".
type SessionFilter struct {
	Status    core.SessionStatus
	DeviceKey string     // matches sessions whose devices_used contains the key
	From      *time.Time // sessions starting at or after
	To        *time.Time // sessions starting before
}

// Storage defines the interface for session persistence
type Storage interface {
	CreateSession(ctx context.Context, session *core.Session) error
	GetSession(ctx context.Context, id string) (*core.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*core.Session, error)
	ListActiveSessions(ctx context.Context) ([]*core.Session, error)
	// UpdateSession applies the session only if its version is newer than the
	// stored one; a stale write is silently dropped.
	UpdateSession(ctx context.Context, session *core.Session) error
	DeleteSession(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}

package core

import (
	"errors"
	"fmt"
	"time"
)

// SessionStatus represents the current state of a session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// SessionType classifies a finished cook by its peak temperature
type SessionType string

const (
	SessionTypeGrilling SessionType = "grilling"
	SessionTypeRoasting SessionType = "roasting"
	SessionTypeSmoking  SessionType = "smoking"
	SessionTypeCooking  SessionType = "cooking"
)

// TemperatureUnit identifies the scale a reading was reported in
type TemperatureUnit string

const (
	UnitFahrenheit TemperatureUnit = "F"
	UnitCelsius    TemperatureUnit = "C"
)

// Physically plausible range for a cooking probe, in Fahrenheit.
// Anything outside is treated as sensor garbage and dropped.
const (
	MinValidTempF = -75.0
	MaxValidTempF = 1200.0
)

// ProbeKey identifies a single temperature sensor on a device
type ProbeKey struct {
	DeviceID string
	ProbeID  string
}

// String returns the canonical "device:probe" form used in logs and API output
func (k ProbeKey) String() string {
	return k.DeviceID + ":" + k.ProbeID
}

// Reading is a single timestamped temperature sample from a probe.
// Readings are ephemeral; only sessions are persisted.
type Reading struct {
	DeviceID    string
	ProbeID     string
	Temperature float64
	Unit        TemperatureUnit
	Timestamp   time.Time
}

// Key returns the probe key for this reading
func (r Reading) Key() ProbeKey {
	return ProbeKey{DeviceID: r.DeviceID, ProbeID: r.ProbeID}
}

// Fahrenheit returns the reading's temperature normalized to °F
func (r Reading) Fahrenheit() float64 {
	if r.Unit == UnitCelsius {
		return r.Temperature*9.0/5.0 + 32.0
	}
	return r.Temperature
}

// Session represents a detected or manually declared cooking activity
type Session struct {
	ID            string
	Name          string
	StartTime     time.Time
	EndTime       *time.Time // set iff status is completed or cancelled
	DevicesUsed   []string   // probe keys that contributed at least one reading
	Status        SessionStatus
	Type          SessionType // set once at finalization
	MaxTemp       float64
	MinTemp       float64
	AvgTemp       float64
	SampleCount   int
	Manual        bool // created or ended via the manual control surface
	LastReadingAt time.Time
	Version       int64 // bumped on every mutation, checked on persistence
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validation and lifecycle errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrNoDevices        = errors.New("session must have at least one device")
	ErrDeviceBusy       = errors.New("device is already attached to an active session")
	ErrDeviceNotInUse   = errors.New("device is not attached to this session")
	ErrInvalidName      = errors.New("session name cannot be empty")
	ErrInvalidDeviceKey = errors.New("device key must be in device_id:probe_id form")
)

// IsActive returns true if the session is currently active
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// IsTerminal returns true once the session has been finalized
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusCancelled
}

// Duration returns the session's wall-clock length. For active sessions it
// measures up to the last contributing reading.
func (s *Session) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	if s.LastReadingAt.IsZero() {
		return 0
	}
	return s.LastReadingAt.Sub(s.StartTime)
}

// UsesDevice reports whether the given probe key contributed to this session
func (s *Session) UsesDevice(key string) bool {
	for _, d := range s.DevicesUsed {
		if d == key {
			return true
		}
	}
	return false
}

// Validate checks session structural invariants
func (s *Session) Validate() error {
	if len(s.DevicesUsed) == 0 {
		return ErrNoDevices
	}
	if s.IsTerminal() && s.EndTime == nil {
		return fmt.Errorf("terminal session %s has no end time", s.ID)
	}
	if !s.IsTerminal() && s.EndTime != nil {
		return fmt.Errorf("active session %s has an end time", s.ID)
	}
	if s.EndTime != nil && s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("session %s ends before it starts", s.ID)
	}
	if s.SampleCount > 0 && (s.MinTemp > s.AvgTemp || s.AvgTemp > s.MaxTemp) {
		return fmt.Errorf("session %s has inconsistent statistics", s.ID)
	}
	return nil
}

// DefaultName generates a human-readable name from the start time
func (s *Session) DefaultName() string {
	return "Cook " + s.StartTime.UTC().Format("2006-01-02 15:04")
}

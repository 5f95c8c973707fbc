package core

import (
	"context"
	"fmt"
	"log/slog"
	"pitmon/internal/idgen"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage is the persistence boundary the tracker writes through. The
// in-memory state stays authoritative; writes are dispatched via the persister
// and retried on failure.
type Storage interface {
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
}

// Persistence decouples the ingestion path from storage. Enqueue must never
// block.
type Persistence interface {
	Enqueue(session *Session)
}

// probeState is the per-probe mutable state. state and stateSince are guarded
// by mu; readings for one probe arrive in timestamp order and are evaluated
// under it, while independent probes proceed in parallel.
//
// Lock order: probeState.mu may be taken before Tracker.mu or sessionEntry.mu,
// never after. Multi-probe claims (ForceStart) lock probes in sorted key order.
type probeState struct {
	mu         sync.Mutex
	state      DetectorState
	stateSince time.Time
}

// sessionEntry guards one session. Multiple probes contributing to the same
// session serialize through this lock.
type sessionEntry struct {
	mu      sync.Mutex
	session *Session
}

// Tracker orchestrates detection and session lifecycle: it feeds readings
// through the baseline tracker and detector, routes them to the aggregator
// while a session is active, finalizes sessions through the classifier, and
// applies manual overrides and stale cleanup.
type Tracker struct {
	cfg       DetectorConfig
	baseline  *BaselineTracker
	agg       *Aggregator
	persister Persistence
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex // guards the two maps, not the entries
	probes   map[ProbeKey]*probeState
	sessions map[string]*sessionEntry

	statsMu         sync.Mutex
	droppedReadings int64
	lateReadings    int64
	lastCleanupRun  *time.Time
}

// NewTracker creates a tracker. A nil logger falls back to slog.Default; the
// clock is injectable for deterministic window tests.
func NewTracker(cfg DetectorConfig, baseline *BaselineTracker, persister Persistence, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if baseline == nil {
		baseline = NewBaselineTracker(DefaultBaselineWindowSize, DefaultBaselineMinSamples)
	}
	return &Tracker{
		cfg:       cfg,
		baseline:  baseline,
		agg:       NewAggregator(),
		persister: persister,
		logger:    logger,
		now:       time.Now,
		probes:    make(map[ProbeKey]*probeState),
		sessions:  make(map[string]*sessionEntry),
	}
}

// SetClock overrides the tracker's clock. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// ProcessReading ingests one reading. Reading-level problems are swallowed
// here so one probe's bad data never stalls the ingestion path; the return
// value only reports whether the reading was accepted into the state machine.
func (t *Tracker) ProcessReading(deviceID, probeID string, temperature float64, unit TemperatureUnit, ts time.Time) bool {
	reading := Reading{
		DeviceID:    deviceID,
		ProbeID:     probeID,
		Temperature: temperature,
		Unit:        unit,
		Timestamp:   ts,
	}
	tempF := reading.Fahrenheit()

	if tempF < MinValidTempF || tempF > MaxValidTempF {
		t.statsMu.Lock()
		t.droppedReadings++
		t.statsMu.Unlock()
		t.logger.Warn("Dropped reading outside valid range",
			"component", "tracker",
			"probe", reading.Key().String(),
			"temperature_f", tempF,
		)
		return false
	}

	key := reading.Key()
	ps := t.probeFor(key)

	ps.mu.Lock()
	prev := ps.state
	baseline, hasBaseline := t.baseline.Baseline(key)
	next, event := Step(prev, baseline, hasBaseline, tempF, ts, t.cfg)

	var endedSession string

	switch event {
	case EventSessionStart:
		// The confirmed rise started at the beginning of the elevated run.
		session := t.startSession(key, prev.RunStart, false)
		next.SessionID = session.ID
		t.routeToSession(session.ID, key, tempF, ts)

	case EventSessionEnd:
		t.finalizeSession(prev.SessionID, ts, false)
		t.baseline.Reset(key)
		endedSession = prev.SessionID

	case EventNone:
		switch next.Phase {
		case PhaseIdle:
			t.baseline.Observe(key, tempF)
		case PhaseActive, PhaseEnding:
			t.routeToSession(next.SessionID, key, tempF, ts)
		}
	}

	if next.Phase != prev.Phase {
		ps.stateSince = ts
		t.logger.Debug("Probe state transition",
			"component", "tracker",
			"probe", key.String(),
			"from", string(prev.Phase),
			"to", string(next.Phase),
		)
	}
	ps.state = next
	ps.mu.Unlock()

	// If this probe confirmed the end of a multi-probe session, the other
	// contributing probes go back to Idle too.
	if endedSession != "" {
		t.releaseProbes(endedSession, ps)
	}
	return true
}

// probeFor returns the probe's state, auto-registering unknown probes as Idle.
func (t *Tracker) probeFor(key ProbeKey) *probeState {
	t.mu.RLock()
	ps, ok := t.probes[key]
	t.mu.RUnlock()
	if ok {
		return ps
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ps, ok = t.probes[key]; ok {
		return ps
	}
	ps = &probeState{state: IdleState(), stateSince: t.now()}
	t.probes[key] = ps
	t.logger.Info("Registered new probe", "component", "tracker", "probe", key.String())
	return ps
}

// startSession creates an active session owned by the given probe and
// dispatches the create to storage.
func (t *Tracker) startSession(key ProbeKey, startTime time.Time, manual bool) *Session {
	now := t.now()
	session := &Session{
		ID:        idgen.NewSession(),
		StartTime: startTime,
		Status:    SessionStatusActive,
		Manual:    manual,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	session.Name = session.DefaultName()

	t.mu.Lock()
	t.sessions[session.ID] = &sessionEntry{session: session}
	t.mu.Unlock()

	t.baseline.Freeze(key)
	t.persist(session)

	t.logger.Info("Session started",
		"component", "tracker",
		"session_id", session.ID,
		"probe", key.String(),
		"manual", manual,
	)
	return session
}

// routeToSession folds a reading into its active session. Readings that
// arrive after finalization are logged and ignored.
func (t *Tracker) routeToSession(sessionID string, key ProbeKey, tempF float64, ts time.Time) {
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session.IsTerminal() {
		t.statsMu.Lock()
		t.lateReadings++
		t.statsMu.Unlock()
		t.logger.Warn("Ignoring reading for finalized session",
			"component", "tracker",
			"session_id", sessionID,
			"probe", key.String(),
		)
		return
	}

	t.agg.Apply(entry.session, key, tempF)
	entry.session.LastReadingAt = ts
	entry.session.Version++
	entry.session.UpdatedAt = t.now()
	t.persist(entry.session)
}

// finalizeSession closes a session detected as ended. Finalizing an
// already-terminal session is a no-op.
func (t *Tracker) finalizeSession(sessionID string, endTime time.Time, manual bool) *Session {
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return t.finalizeLocked(entry, endTime, manual)
}

// finalizeLocked applies the terminal transition. Sessions shorter than the
// configured minimum are cancelled rather than completed; manual ends skip
// that check. Caller holds the entry lock.
func (t *Tracker) finalizeLocked(entry *sessionEntry, endTime time.Time, manual bool) *Session {
	s := entry.session
	if s.IsTerminal() {
		return s
	}

	if endTime.Before(s.StartTime) {
		endTime = s.StartTime
	}
	end := endTime
	s.EndTime = &end
	if s.SampleCount > 0 {
		s.Type = Classify(s.MaxTemp)
	} else {
		s.Type = SessionTypeCooking
	}

	if manual || end.Sub(s.StartTime) >= t.cfg.MinSessionDuration {
		s.Status = SessionStatusCompleted
	} else {
		s.Status = SessionStatusCancelled
	}
	if manual {
		s.Manual = true
	}
	s.Version++
	s.UpdatedAt = t.now()
	t.persist(s)

	t.logger.Info("Session finalized",
		"component", "tracker",
		"session_id", s.ID,
		"status", string(s.Status),
		"type", string(s.Type),
		"samples", s.SampleCount,
		"duration", end.Sub(s.StartTime).String(),
	)
	return s
}

func (t *Tracker) sessionFor(id string) *sessionEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

func (t *Tracker) persist(s *Session) {
	if t.persister == nil {
		return
	}
	t.persister.Enqueue(snapshot(s))
}

// snapshot deep-copies a session so persistence and API responses never race
// with in-memory mutation.
func snapshot(s *Session) *Session {
	cp := *s
	cp.DevicesUsed = append([]string(nil), s.DevicesUsed...)
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// ParseProbeKey parses the "device:probe" form used on the manual control
// surface.
func ParseProbeKey(raw string) (ProbeKey, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ProbeKey{}, fmt.Errorf("%w: %q", ErrInvalidDeviceKey, raw)
	}
	return ProbeKey{DeviceID: parts[0], ProbeID: parts[1]}, nil
}

// ForceStart creates a manual session for the given probes, bypassing the
// detector. It fails with ErrDeviceBusy if any probe already belongs to an
// active session.
func (t *Tracker) ForceStart(ctx context.Context, deviceKeys []string) (*Session, error) {
	if len(deviceKeys) == 0 {
		return nil, ErrNoDevices
	}

	seen := make(map[ProbeKey]bool)
	keys := make([]ProbeKey, 0, len(deviceKeys))
	for _, raw := range deviceKeys {
		key, err := ParseProbeKey(raw)
		if err != nil {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	// Claim all probes under their own locks, in sorted order, so two
	// concurrent ForceStart calls cannot both pass the conflict check.
	states := make([]*probeState, len(keys))
	for i, key := range keys {
		states[i] = t.probeFor(key)
		states[i].mu.Lock()
	}
	defer func() {
		for _, ps := range states {
			ps.mu.Unlock()
		}
	}()

	for i, ps := range states {
		if ps.state.Phase == PhaseActive || ps.state.Phase == PhaseEnding {
			return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, keys[i].String())
		}
	}

	now := t.now()
	session := &Session{
		ID:        idgen.NewSession(),
		StartTime: now,
		Status:    SessionStatusActive,
		Manual:    true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	session.Name = session.DefaultName()
	for _, key := range keys {
		session.DevicesUsed = append(session.DevicesUsed, key.String())
	}

	t.mu.Lock()
	t.sessions[session.ID] = &sessionEntry{session: session}
	t.mu.Unlock()

	for i, ps := range states {
		ps.state = DetectorState{Phase: PhaseActive, SessionID: session.ID}
		ps.stateSince = now
		t.baseline.Freeze(keys[i])
	}
	t.persist(session)

	t.logger.Info("Manual session started",
		"component", "tracker",
		"session_id", session.ID,
		"devices", strings.Join(deviceKeys, ","),
	)
	return snapshot(session), nil
}

// ForceEnd finalizes a session immediately, ignoring the minimum duration.
// Idempotent: ending an already-terminal session returns its current state.
func (t *Tracker) ForceEnd(ctx context.Context, sessionID string) (*Session, error) {
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	entry.mu.Lock()
	if entry.session.IsTerminal() {
		s := snapshot(entry.session)
		entry.mu.Unlock()
		return s, nil
	}
	s := snapshot(t.finalizeLocked(entry, t.now(), true))
	entry.mu.Unlock()

	t.releaseProbes(sessionID, nil)
	return s, nil
}

// releaseProbes returns every probe owned by the session to Idle and restarts
// its baseline tracking. except is a probe whose lock the caller already
// holds (and has already reset itself).
func (t *Tracker) releaseProbes(sessionID string, except *probeState) {
	t.mu.RLock()
	owned := make(map[ProbeKey]*probeState)
	for key, ps := range t.probes {
		if ps != except {
			owned[key] = ps
		}
	}
	t.mu.RUnlock()

	now := t.now()
	for key, ps := range owned {
		ps.mu.Lock()
		if ps.state.SessionID == sessionID && ps.state.Phase != PhaseIdle {
			ps.state = IdleState()
			ps.stateSince = now
			t.baseline.Reset(key)
		}
		ps.mu.Unlock()
	}
}

// Rename sets the session's display name.
func (t *Tracker) Rename(ctx context.Context, sessionID, name string) (*Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidName
	}
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.session.Name = name
	entry.session.Version++
	entry.session.UpdatedAt = t.now()
	t.persist(entry.session)
	return snapshot(entry.session), nil
}

// AddDevice attaches a probe to an active session for manual multi-probe
// cooks. Statistics already accumulated from other probes are untouched.
func (t *Tracker) AddDevice(ctx context.Context, sessionID, deviceKey string) (*Session, error) {
	key, err := ParseProbeKey(deviceKey)
	if err != nil {
		return nil, err
	}
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	ps := t.probeFor(key)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	phase := ps.state.Phase
	if (phase == PhaseActive || phase == PhaseEnding) && ps.state.SessionID != sessionID {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, key.String())
	}

	entry.mu.Lock()
	if !entry.session.IsActive() {
		entry.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	t.agg.AddDevice(entry.session, key.String())
	entry.session.Version++
	entry.session.UpdatedAt = t.now()
	t.persist(entry.session)
	s := snapshot(entry.session)
	entry.mu.Unlock()

	ps.state = DetectorState{Phase: PhaseActive, SessionID: sessionID}
	ps.stateSince = t.now()
	t.baseline.Freeze(key)

	return s, nil
}

// RemoveDevice detaches a probe from an active session. Already-accumulated
// statistics remain part of the session.
func (t *Tracker) RemoveDevice(ctx context.Context, sessionID, deviceKey string) (*Session, error) {
	key, err := ParseProbeKey(deviceKey)
	if err != nil {
		return nil, err
	}
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	ps := t.probeFor(key)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	entry.mu.Lock()
	if !entry.session.IsActive() {
		entry.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	if !t.agg.RemoveDevice(entry.session, key.String()) {
		entry.mu.Unlock()
		return nil, ErrDeviceNotInUse
	}
	entry.session.Version++
	entry.session.UpdatedAt = t.now()
	t.persist(entry.session)
	s := snapshot(entry.session)
	entry.mu.Unlock()

	if ps.state.SessionID == sessionID {
		ps.state = IdleState()
		ps.stateSince = t.now()
		t.baseline.Reset(key)
	}

	return s, nil
}

// GetSession returns a snapshot of an in-memory session.
func (t *Tracker) GetSession(sessionID string) (*Session, error) {
	entry := t.sessionFor(sessionID)
	if entry == nil {
		return nil, ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.session), nil
}

// ActiveSessions returns snapshots of all currently active sessions.
func (t *Tracker) ActiveSessions() []*Session {
	t.mu.RLock()
	entries := make([]*sessionEntry, 0, len(t.sessions))
	for _, e := range t.sessions {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	active := make([]*Session, 0)
	for _, e := range entries {
		e.mu.Lock()
		if e.session.IsActive() {
			active = append(active, snapshot(e.session))
		}
		e.mu.Unlock()
	}
	return active
}

// FinalizeStale force-closes active sessions whose most recent contributing
// reading is older than the stale timeout. The last reading's timestamp
// becomes the end time; sessions that never met the minimum duration are
// cancelled. Safe to race with detector-driven finalization: the terminal
// check under the session lock makes the second finalizer a no-op.
func (t *Tracker) FinalizeStale(ctx context.Context, now time.Time) int {
	t.mu.RLock()
	entries := make(map[string]*sessionEntry, len(t.sessions))
	for id, e := range t.sessions {
		entries[id] = e
	}
	t.mu.RUnlock()

	closed := 0
	for id, entry := range entries {
		entry.mu.Lock()
		s := entry.session
		if !s.IsActive() {
			entry.mu.Unlock()
			continue
		}
		lastSeen := s.LastReadingAt
		if lastSeen.IsZero() {
			lastSeen = s.StartTime
		}
		if now.Sub(lastSeen) < t.cfg.StaleTimeout {
			entry.mu.Unlock()
			continue
		}

		t.logger.Info("Closing stale session",
			"component", "tracker",
			"session_id", id,
			"last_reading_at", lastSeen,
		)
		t.finalizeLocked(entry, lastSeen, false)
		entry.mu.Unlock()

		t.releaseProbes(id, nil)
		closed++
	}

	t.statsMu.Lock()
	run := now
	t.lastCleanupRun = &run
	t.statsMu.Unlock()
	return closed
}

// ProbeStatus describes one probe's detector state for the operational surface
type ProbeStatus struct {
	Phase      DetectorPhase `json:"phase"`
	StateSince time.Time     `json:"state_since"`
	SessionID  string        `json:"session_id,omitempty"`
	Baseline   *float64      `json:"baseline,omitempty"`
}

// TrackerStatus is the operational snapshot exposed by the API
type TrackerStatus struct {
	ActiveSessions  int                    `json:"active_sessions"`
	Probes          map[string]ProbeStatus `json:"per_probe_state"`
	LastCleanupRun  *time.Time             `json:"last_cleanup_run,omitempty"`
	DroppedReadings int64                  `json:"dropped_readings"`
	LateReadings    int64                  `json:"late_readings"`
}

// Status reports the tracker's operational state.
func (t *Tracker) Status() TrackerStatus {
	t.mu.RLock()
	snapshotProbes := make(map[ProbeKey]*probeState, len(t.probes))
	for key, ps := range t.probes {
		snapshotProbes[key] = ps
	}
	t.mu.RUnlock()

	probes := make(map[string]ProbeStatus, len(snapshotProbes))
	for key, ps := range snapshotProbes {
		ps.mu.Lock()
		status := ProbeStatus{
			Phase:      ps.state.Phase,
			StateSince: ps.stateSince,
			SessionID:  ps.state.SessionID,
		}
		ps.mu.Unlock()
		if b, ok := t.baseline.Baseline(key); ok {
			v := b
			status.Baseline = &v
		}
		probes[key.String()] = status
	}

	active := len(t.ActiveSessions())

	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return TrackerStatus{
		ActiveSessions:  active,
		Probes:          probes,
		LastCleanupRun:  t.lastCleanupRun,
		DroppedReadings: t.droppedReadings,
		LateReadings:    t.lateReadings,
	}
}

package core

import "time"

// DetectorConfig holds the tunable thresholds of the detection state machine.
// All values are overridable from application configuration.
type DetectorConfig struct {
	RiseThreshold      float64       // °F above baseline that counts as a meaningful rise
	StartWindow        time.Duration // how long a rise candidate may struggle before being discarded
	ConfirmRise        time.Duration // continuous elevation needed to confirm a session start
	EndWindow          time.Duration // continuous stability/decline needed to confirm a session end
	StableVariance     float64       // °F band treated as "not rising" while active
	MinSessionDuration time.Duration // shorter confirmed sessions are cancelled, not completed
	StaleTimeout       time.Duration // silence after which cleanup force-closes a session
}

// DefaultDetectorConfig returns the stock thresholds
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		RiseThreshold:      20.0,
		StartWindow:        30 * time.Minute,
		ConfirmRise:        10 * time.Minute,
		EndWindow:          60 * time.Minute,
		StableVariance:     10.0,
		MinSessionDuration: 30 * time.Minute,
		StaleTimeout:       24 * time.Hour,
	}
}

// DetectorPhase names the per-probe state machine states
type DetectorPhase string

const (
	PhaseIdle   DetectorPhase = "idle"
	PhaseRising DetectorPhase = "rising"
	PhaseActive DetectorPhase = "active"
	PhaseEnding DetectorPhase = "ending"
)

// DetectorState is the tagged per-probe state. Fields are meaningful only for
// the phase indicated by Phase:
//   - Rising: WindowStart is the first qualifying reading in the sliding start
//     window; RunStart is the beginning of the current uninterrupted
//     above-threshold run (zero when the run was broken).
//   - Active: SessionID of the session owning the probe; PrevTemp is the last
//     temperature seen, used to spot the beginning of a stable/declining run.
//   - Ending: Since marks the start of the stable/declining run, LocalMin the
//     lowest temperature seen inside it.
type DetectorState struct {
	Phase       DetectorPhase
	WindowStart time.Time
	RunStart    time.Time
	SessionID   string
	PrevTemp    float64
	Since       time.Time
	LocalMin    float64
}

// IdleState returns the initial state for a newly seen probe
func IdleState() DetectorState {
	return DetectorState{Phase: PhaseIdle}
}

// DetectorEvent signals a lifecycle action the caller must perform
type DetectorEvent int

const (
	EventNone DetectorEvent = iota
	EventSessionStart
	EventSessionEnd
)

// Step advances the state machine with one reading (already normalized to °F)
// and reports whether a session should start or end. It is a pure function:
// the caller owns applying the event (creating or finalizing the session) and
// storing the returned state.
//
// hasBaseline is false until the ambient tracker has seen enough idle samples;
// without a baseline no rise can be judged, so Idle probes stay Idle.
func Step(state DetectorState, baseline float64, hasBaseline bool, tempF float64, ts time.Time, cfg DetectorConfig) (DetectorState, DetectorEvent) {
	switch state.Phase {
	case PhaseIdle:
		if !hasBaseline {
			return state, EventNone
		}
		if tempF-baseline >= cfg.RiseThreshold {
			return DetectorState{
				Phase:       PhaseRising,
				WindowStart: ts,
				RunStart:    ts,
			}, EventNone
		}
		return state, EventNone

	case PhaseRising:
		if tempF-baseline >= cfg.RiseThreshold {
			if state.RunStart.IsZero() {
				state.RunStart = ts
				return state, EventNone
			}
			if ts.Sub(state.RunStart) >= cfg.ConfirmRise {
				return DetectorState{
					Phase:    PhaseActive,
					PrevTemp: tempF,
				}, EventSessionStart
			}
			return state, EventNone
		}
		// Fell back below threshold. The candidate survives inside the start
		// window; only the confirmation run resets.
		if ts.Sub(state.WindowStart) >= cfg.StartWindow {
			return IdleState(), EventNone
		}
		state.RunStart = time.Time{}
		return state, EventNone

	case PhaseActive:
		if tempF > state.PrevTemp+cfg.StableVariance {
			// Still climbing meaningfully.
			state.PrevTemp = tempF
			return state, EventNone
		}
		// Non-increasing or within the stable band: a candidate end run begins.
		return DetectorState{
			Phase:     PhaseEnding,
			SessionID: state.SessionID,
			Since:     ts,
			PrevTemp:  tempF,
			LocalMin:  tempF,
		}, EventNone

	case PhaseEnding:
		if tempF-state.LocalMin >= cfg.RiseThreshold {
			// A fresh rise cancels the pending end.
			return DetectorState{
				Phase:     PhaseActive,
				SessionID: state.SessionID,
				PrevTemp:  tempF,
			}, EventNone
		}
		if tempF < state.LocalMin {
			state.LocalMin = tempF
		}
		state.PrevTemp = tempF
		if ts.Sub(state.Since) >= cfg.EndWindow {
			return IdleState(), EventSessionEnd
		}
		return state, EventNone
	}

	return state, EventNone
}

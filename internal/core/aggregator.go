package core

// Aggregator folds readings into a session's running statistics. The mean is
// updated incrementally so no reading history is retained. Callers serialize
// access per session; the aggregator itself holds no locks.
type Aggregator struct{}

// NewAggregator creates a stateless aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Apply folds one reading (normalized to °F) into the session. The probe that
// contributed is added to DevicesUsed on its first reading.
func (a *Aggregator) Apply(session *Session, key ProbeKey, tempF float64) {
	if session.SampleCount == 0 {
		session.MaxTemp = tempF
		session.MinTemp = tempF
		session.AvgTemp = tempF
	} else {
		if tempF > session.MaxTemp {
			session.MaxTemp = tempF
		}
		if tempF < session.MinTemp {
			session.MinTemp = tempF
		}
		session.AvgTemp += (tempF - session.AvgTemp) / float64(session.SampleCount+1)
	}
	session.SampleCount++

	if !session.UsesDevice(key.String()) {
		session.DevicesUsed = append(session.DevicesUsed, key.String())
	}
}

// AddDevice attaches a probe to the session without touching statistics
// accumulated from other probes. Adding an already-attached probe is a no-op.
func (a *Aggregator) AddDevice(session *Session, key string) {
	if session.UsesDevice(key) {
		return
	}
	session.DevicesUsed = append(session.DevicesUsed, key)
}

// RemoveDevice detaches a probe from the session. Statistics already
// contributed by that probe remain; only membership changes.
func (a *Aggregator) RemoveDevice(session *Session, key string) bool {
	for i, d := range session.DevicesUsed {
		if d == key {
			session.DevicesUsed = append(session.DevicesUsed[:i], session.DevicesUsed[i+1:]...)
			return true
		}
	}
	return false
}

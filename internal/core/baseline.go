package core

import (
	"sort"
	"sync"
)

// Defaults for the ambient baseline window
const (
	DefaultBaselineWindowSize = 12
	DefaultBaselineMinSamples = 3
)

// BaselineTracker maintains a per-probe idle temperature reference. While a
// probe is idle every reading enters a rolling window; the baseline is the
// median of that window, so single noisy samples and brief ambient swings do
// not drag the reference around. The window freezes while the probe is part of
// an active session and is cleared once the session ends, so post-cook heat
// never contaminates the idle reference.
type BaselineTracker struct {
	mu         sync.RWMutex
	windows    map[ProbeKey][]float64
	frozen     map[ProbeKey]float64
	windowSize int
	minSamples int
}

// NewBaselineTracker creates a tracker with the given rolling window size and
// the minimum number of idle samples required before a baseline is reported.
func NewBaselineTracker(windowSize, minSamples int) *BaselineTracker {
	if windowSize <= 0 {
		windowSize = DefaultBaselineWindowSize
	}
	if minSamples <= 0 {
		minSamples = DefaultBaselineMinSamples
	}
	return &BaselineTracker{
		windows:    make(map[ProbeKey][]float64),
		frozen:     make(map[ProbeKey]float64),
		windowSize: windowSize,
		minSamples: minSamples,
	}
}

// Observe records an idle reading (already normalized to °F) for the probe.
// Observations for frozen probes are ignored.
func (b *BaselineTracker) Observe(key ProbeKey, tempF float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.frozen[key]; ok {
		return
	}

	window := append(b.windows[key], tempF)
	if len(window) > b.windowSize {
		window = window[len(window)-b.windowSize:]
	}
	b.windows[key] = window
}

// Baseline returns the probe's idle reference and whether one exists yet.
// A frozen probe keeps reporting the value captured at freeze time.
func (b *BaselineTracker) Baseline(key ProbeKey) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if v, ok := b.frozen[key]; ok {
		return v, true
	}
	window := b.windows[key]
	if len(window) < b.minSamples {
		return 0, false
	}
	return median(window), true
}

// Freeze pins the probe's baseline at its current value for the duration of a
// session. Freezing a probe without an established baseline is a no-op.
func (b *BaselineTracker) Freeze(key ProbeKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.windows[key]
	if len(window) < b.minSamples {
		return
	}
	b.frozen[key] = median(window)
}

// Reset clears the probe's window and unfreezes it so idle tracking restarts
// from scratch after a session ends.
func (b *BaselineTracker) Reset(key ProbeKey) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.frozen, key)
	delete(b.windows, key)
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

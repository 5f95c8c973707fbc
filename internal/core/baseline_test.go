package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaselineTracker_RequiresMinSamples(t *testing.T) {
	b := NewBaselineTracker(12, 3)
	key := ProbeKey{DeviceID: "D1", ProbeID: "P1"}

	_, ok := b.Baseline(key)
	assert.False(t, ok)

	b.Observe(key, 74)
	b.Observe(key, 75)
	_, ok = b.Baseline(key)
	assert.False(t, ok, "two samples are not enough")

	b.Observe(key, 76)
	baseline, ok := b.Baseline(key)
	require.True(t, ok)
	assert.Equal(t, 75.0, baseline)
}

func TestBaselineTracker_MedianResistsOutliers(t *testing.T) {
	b := NewBaselineTracker(12, 3)
	key := ProbeKey{DeviceID: "D1", ProbeID: "P1"}

	for _, temp := range []float64{74, 75, 75, 76, 74} {
		b.Observe(key, temp)
	}
	// One garbage spike should not move the reference
	b.Observe(key, 300)

	baseline, ok := b.Baseline(key)
	require.True(t, ok)
	assert.Equal(t, 75.0, baseline)
}

func TestBaselineTracker_WindowDecaysOldReadings(t *testing.T) {
	b := NewBaselineTracker(4, 3)
	key := ProbeKey{DeviceID: "D1", ProbeID: "P1"}

	for _, temp := range []float64{60, 60, 60, 60} {
		b.Observe(key, temp)
	}
	// Ambient warmed up; the window slides past the old readings
	for _, temp := range []float64{80, 80, 80, 80} {
		b.Observe(key, temp)
	}

	baseline, ok := b.Baseline(key)
	require.True(t, ok)
	assert.Equal(t, 80.0, baseline)
}

func TestBaselineTracker_FreezeAndReset(t *testing.T) {
	b := NewBaselineTracker(12, 3)
	key := ProbeKey{DeviceID: "D1", ProbeID: "P1"}

	for _, temp := range []float64{74, 75, 76} {
		b.Observe(key, temp)
	}
	b.Freeze(key)

	// Observations while frozen are ignored
	b.Observe(key, 200)
	b.Observe(key, 210)
	baseline, ok := b.Baseline(key)
	require.True(t, ok)
	assert.Equal(t, 75.0, baseline)

	// Reset clears everything: tracking restarts from scratch
	b.Reset(key)
	_, ok = b.Baseline(key)
	assert.False(t, ok)

	for _, temp := range []float64{80, 81, 82} {
		b.Observe(key, temp)
	}
	baseline, ok = b.Baseline(key)
	require.True(t, ok)
	assert.Equal(t, 81.0, baseline)
}

func TestBaselineTracker_FreezeWithoutBaselineIsNoop(t *testing.T) {
	b := NewBaselineTracker(12, 3)
	key := ProbeKey{DeviceID: "D1", ProbeID: "P1"}

	b.Observe(key, 75)
	b.Freeze(key)

	// Not frozen: new observations still count toward the minimum
	b.Observe(key, 75)
	b.Observe(key, 75)
	_, ok := b.Baseline(key)
	assert.True(t, ok)
}

func TestBaselineTracker_ProbesAreIndependent(t *testing.T) {
	b := NewBaselineTracker(12, 3)
	k1 := ProbeKey{DeviceID: "D1", ProbeID: "P1"}
	k2 := ProbeKey{DeviceID: "D1", ProbeID: "P2"}

	for _, temp := range []float64{70, 70, 70} {
		b.Observe(k1, temp)
	}
	for _, temp := range []float64{90, 90, 90} {
		b.Observe(k2, temp)
	}

	b1, ok := b.Baseline(k1)
	require.True(t, ok)
	b2, ok := b.Baseline(k2)
	require.True(t, ok)
	assert.Equal(t, 70.0, b1)
	assert.Equal(t, 90.0, b2)
}

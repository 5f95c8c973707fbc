package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCleaner struct {
	mu     sync.Mutex
	calls  []time.Time
	closed int
}

func (m *mockCleaner) FinalizeStale(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	return m.closed
}

func (m *mockCleaner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestScheduler_TickUsesInjectedClock(t *testing.T) {
	cleaner := &mockCleaner{closed: 2}
	s := NewScheduler(cleaner, time.Minute, nil)

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	s.Tick()
	s.Tick()

	cleaner.mu.Lock()
	defer cleaner.mu.Unlock()
	require.Len(t, cleaner.calls, 2)
	assert.Equal(t, fixed, cleaner.calls[0])
	assert.Equal(t, fixed, cleaner.calls[1])
}

func TestScheduler_StartStop(t *testing.T) {
	cleaner := &mockCleaner{}
	s := NewScheduler(cleaner, 10*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return cleaner.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

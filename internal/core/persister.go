package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Persister flushes dirty session snapshots to storage in the background.
// Enqueue replaces any pending snapshot for the same session (latest wins), so
// ingestion never blocks on storage and a slow or failing store only delays
// durability, never detection. Failed flushes are retried with exponential
// backoff.
type Persister struct {
	storage  Storage
	logger   *slog.Logger
	interval time.Duration
	stopChan chan struct{}

	mu          sync.Mutex
	dirty       map[string]*Session
	created     map[string]bool
	failures    int
	nextAttempt time.Time
}

// Backoff bounds for failed flushes
const (
	persistBackoffBase = time.Second
	persistBackoffMax  = 5 * time.Minute
)

// NewPersister creates a persister flushing every interval.
func NewPersister(storage Storage, interval time.Duration, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		storage:  storage,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
		dirty:    make(map[string]*Session),
		created:  make(map[string]bool),
	}
}

// Enqueue marks a session snapshot dirty. Never blocks.
func (p *Persister) Enqueue(session *Session) {
	p.mu.Lock()
	p.dirty[session.ID] = session
	p.mu.Unlock()
}

// Start runs the flush loop until Stop is called.
func (p *Persister) Start() {
	p.logger.Info("Persister started", "component", "persister", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(context.Background())
		case <-p.stopChan:
			// Final best-effort flush so a clean shutdown loses nothing.
			p.Flush(context.Background())
			p.logger.Info("Persister stopped", "component", "persister")
			return
		}
	}
}

// Stop terminates the flush loop after one final flush.
func (p *Persister) Stop() {
	close(p.stopChan)
}

// Flush writes all dirty sessions to storage. Sessions that fail stay dirty
// and are retried on a later cycle, with the delay doubling per consecutive
// failure. Returns the number of sessions flushed.
func (p *Persister) Flush(ctx context.Context) int {
	p.mu.Lock()
	if time.Now().Before(p.nextAttempt) {
		p.mu.Unlock()
		return 0
	}
	batch := make(map[string]*Session, len(p.dirty))
	for id, s := range p.dirty {
		batch[id] = s
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	flushed := 0
	failed := false
	for id, session := range batch {
		var err error
		p.mu.Lock()
		alreadyCreated := p.created[id]
		p.mu.Unlock()

		if alreadyCreated {
			err = p.storage.UpdateSession(ctx, session)
		} else {
			err = p.storage.CreateSession(ctx, session)
		}
		if err != nil {
			failed = true
			p.logger.Error("Failed to persist session",
				"component", "persister",
				"session_id", id,
				"error", err,
			)
			continue
		}

		p.mu.Lock()
		p.created[id] = true
		// Only clear if no newer snapshot arrived while we were writing.
		if p.dirty[id] == session {
			delete(p.dirty, id)
		}
		p.mu.Unlock()
		flushed++
	}

	p.mu.Lock()
	if failed {
		p.failures++
		delay := persistBackoffBase << uint(p.failures-1)
		if delay > persistBackoffMax || delay <= 0 {
			delay = persistBackoffMax
		}
		p.nextAttempt = time.Now().Add(delay)
		p.logger.Warn("Persistence degraded, backing off",
			"component", "persister",
			"consecutive_failures", p.failures,
			"retry_in", delay.String(),
		)
	} else {
		p.failures = 0
		p.nextAttempt = time.Time{}
	}
	p.mu.Unlock()

	return flushed
}

// Pending reports how many sessions are waiting to be flushed.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty)
}

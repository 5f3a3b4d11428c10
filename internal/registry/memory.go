package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// DefaultRetention is how long a terminal job stays readable after its last subscriber detaches
const DefaultRetention = 10 * time.Minute

// MemoryConfig holds in-process registry configuration
type MemoryConfig struct {
	Logger     *slog.Logger
	Retention  time.Duration
	BufferSize int
}

type memoryEntry struct {
	mu         sync.Mutex
	job        *domain.Job
	subs       map[*Subscription]struct{}
	detachedAt time.Time
}

// Memory is an in-process Registry. Each job carries its own lock, so
// mutations of unrelated jobs never wait on each other.
type Memory struct {
	logger     *slog.Logger
	retention  time.Duration
	bufferSize int
	now        func() time.Time

	mu   sync.RWMutex
	jobs map[string]*memoryEntry
}

// NewMemory creates an empty in-process registry
func NewMemory(cfg *MemoryConfig) *Memory {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		logger:     logger,
		retention:  retention,
		bufferSize: cfg.BufferSize,
		now:        time.Now,
		jobs:       make(map[string]*memoryEntry),
	}
}

// Create registers a new queued job
func (m *Memory) Create(ctx context.Context, sub domain.Submission) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	entry := &memoryEntry{
		job:  domain.NewJob(id, sub, m.now()),
		subs: make(map[*Subscription]struct{}),
	}

	m.mu.Lock()
	m.jobs[id] = entry
	m.mu.Unlock()

	m.logger.Debug("Job registered", slog.String("job_id", id))
	return id, nil
}

// Get returns a copy of the job
func (m *Memory) Get(ctx context.Context, id string) (*domain.Job, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Clone(), nil
}

// Update applies a progress update and fans the new snapshot out to subscribers
func (m *Memory) Update(ctx context.Context, id string, u domain.ProgressUpdate) error {
	return m.mutate(id, func(job *domain.Job, now time.Time) error {
		return job.ApplyUpdate(u, now)
	})
}

// Transition moves the job to a new status
func (m *Memory) Transition(ctx context.Context, id string, to domain.Status, p domain.TransitionPayload) error {
	return m.mutate(id, func(job *domain.Job, now time.Time) error {
		return job.ApplyTransition(to, p, now)
	})
}

// Subscribe returns a stream that starts with the current job state
func (m *Memory) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(id, m.bufferSize)
	sub.onClose = func() { m.detach(entry, sub) }

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if sub.deliver(entry.job.Clone()) {
		entry.subs[sub] = struct{}{}
	}
	return sub, nil
}

// Len returns the number of jobs currently held
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// RunJanitor evicts expired terminal jobs until ctx is cancelled
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.retention / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				m.logger.Debug("Evicted expired jobs", slog.Int("count", n))
			}
		}
	}
}

// sweep removes terminal jobs without subscribers whose retention window has passed
func (m *Memory) sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, entry := range m.jobs {
		entry.mu.Lock()
		expired := entry.expired(now, m.retention)
		entry.mu.Unlock()

		if expired {
			delete(m.jobs, id)
			evicted++
		}
	}
	return evicted
}

func (m *Memory) lookup(id string) (*memoryEntry, error) {
	m.mu.RLock()
	entry, ok := m.jobs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return entry, nil
}

func (m *Memory) mutate(id string, apply func(job *domain.Job, now time.Time) error) error {
	entry, err := m.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.job.Clone()
	if err := apply(next, m.now()); err != nil {
		return err
	}
	entry.job = next

	for sub := range entry.subs {
		if !sub.deliver(next.Clone()) {
			delete(entry.subs, sub)
		}
	}
	if next.Status.IsTerminal() && len(entry.subs) == 0 {
		entry.detachedAt = m.now()
	}
	return nil
}

func (m *Memory) detach(entry *memoryEntry, sub *Subscription) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, ok := entry.subs[sub]; !ok {
		return
	}
	delete(entry.subs, sub)
	if len(entry.subs) == 0 {
		entry.detachedAt = m.now()
	}
}

func (e *memoryEntry) expired(now time.Time, retention time.Duration) bool {
	if !e.job.Status.IsTerminal() || len(e.subs) > 0 {
		return false
	}

	since := e.detachedAt
	if e.job.CompletedAt != nil && e.job.CompletedAt.After(since) {
		since = *e.job.CompletedAt
	}
	return now.Sub(since) >= retention
}

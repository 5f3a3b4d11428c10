package registry

import (
	"context"
	"sync"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// DefaultBufferSize is the number of snapshots a subscription holds before
// older intermediate snapshots are overwritten
const DefaultBufferSize = 16

// Registry is the authoritative store of job state.
// Implementations must be safe for concurrent use.
type Registry interface {
	Create(ctx context.Context, sub domain.Submission) (string, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Update(ctx context.Context, id string, u domain.ProgressUpdate) error
	Transition(ctx context.Context, id string, to domain.Status, p domain.TransitionPayload) error
	Subscribe(ctx context.Context, id string) (*Subscription, error)
}

// Subscription is a stream of job snapshots.
//
// The first snapshot is the job state at subscribe time. A slow reader loses
// intermediate snapshots, never the newest one. The channel is closed after
// the terminal snapshot or when Close is called.
type Subscription struct {
	JobID string

	mu          sync.Mutex
	ch          chan *domain.Job
	done        chan struct{}
	closed      bool
	lastVersion int64
	dropped     int
	once        sync.Once
	onClose     func()
}

func newSubscription(jobID string, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Subscription{
		JobID: jobID,
		ch:    make(chan *domain.Job, bufferSize),
		done:  make(chan struct{}),
	}
}

// C returns the snapshot channel
func (s *Subscription) C() <-chan *domain.Job {
	return s.ch
}

// Done is closed once the subscription is closed by its owner
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports how many snapshots were overwritten because the reader lagged
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()

		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// deliver pushes a snapshot without ever blocking the caller.
// It reports whether the subscription is still open afterwards.
func (s *Subscription) deliver(job *domain.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if job.Version <= s.lastVersion {
		return true
	}
	s.lastVersion = job.Version

	select {
	case s.ch <- job:
	default:
		// Buffer full: drop the oldest snapshot so the newest always lands.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
		s.ch <- job
	}

	if job.Status.IsTerminal() {
		s.closed = true
		close(s.ch)
		return false
	}
	return true
}

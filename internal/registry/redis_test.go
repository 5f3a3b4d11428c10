package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(&RedisConfig{
		Client:    client,
		KeyPrefix: "test",
		Retention: 5 * time.Minute,
	}), mr
}

func TestRedis_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	id, err := r.Create(ctx, testSubmission())
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:job:"+id))

	job, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, "meeting.wav", job.Submission.Filename)
	assert.Nil(t, job.TimeRemaining)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedis_TransitionsAndRetention(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	id, err := r.Create(ctx, testSubmission())
	require.NoError(t, err)

	require.NoError(t, r.Transition(ctx, id, domain.StatusProcessing, domain.TransitionPayload{}))
	require.NoError(t, r.Update(ctx, id, domain.ProgressUpdate{Progress: intPtr(40)}))
	assert.Equal(t, time.Duration(0), mr.TTL("test:job:"+id), "running jobs never expire")

	require.NoError(t, r.Transition(ctx, id, domain.StatusCompleted, domain.TransitionPayload{Result: testResult()}))
	assert.Equal(t, 5*time.Minute, mr.TTL("test:job:"+id))

	job, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, "hello world", job.Result.Text)
	assert.Equal(t, int64(4), job.Version)

	err = r.Transition(ctx, id, domain.StatusFailed, domain.TransitionPayload{Error: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = r.Update(ctx, "missing", domain.ProgressUpdate{Progress: intPtr(1)})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mr.FastForward(6 * time.Minute)
	_, err = r.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedis_ConcurrentTerminalTransitions(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	id, err := r.Create(ctx, testSubmission())
	require.NoError(t, err)
	require.NoError(t, r.Transition(ctx, id, domain.StatusProcessing, domain.TransitionPayload{}))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			var err error
			if i%2 == 0 {
				err = r.Transition(ctx, id, domain.StatusCompleted, domain.TransitionPayload{Result: testResult()})
			} else {
				err = r.Transition(ctx, id, domain.StatusCancelled, domain.TransitionPayload{})
			}
			if err == nil {
				succeeded.Add(1)
			} else {
				assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
}

func TestRedis_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("streams published snapshots", func(t *testing.T) {
		r, _ := newTestRedis(t)
		id, err := r.Create(ctx, testSubmission())
		require.NoError(t, err)

		sub, err := r.Subscribe(ctx, id)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, r.Transition(ctx, id, domain.StatusProcessing, domain.TransitionPayload{}))
		require.NoError(t, r.Update(ctx, id, domain.ProgressUpdate{Progress: intPtr(25)}))
		require.NoError(t, r.Transition(ctx, id, domain.StatusFailed, domain.TransitionPayload{Error: "provider down"}))

		snapshots := collect(t, sub, 2*time.Second)
		require.NotEmpty(t, snapshots)
		assert.Equal(t, domain.StatusQueued, snapshots[0].Status)

		last := snapshots[len(snapshots)-1]
		assert.Equal(t, domain.StatusFailed, last.Status)
		require.NotNil(t, last.Error)
		assert.Equal(t, "provider down", *last.Error)

		for i := 1; i < len(snapshots); i++ {
			assert.Greater(t, snapshots[i].Version, snapshots[i-1].Version)
		}
	})

	t.Run("terminal job closes immediately", func(t *testing.T) {
		r, _ := newTestRedis(t)
		id, err := r.Create(ctx, testSubmission())
		require.NoError(t, err)
		require.NoError(t, r.Transition(ctx, id, domain.StatusCancelled, domain.TransitionPayload{}))

		sub, err := r.Subscribe(ctx, id)
		require.NoError(t, err)

		snapshots := collect(t, sub, time.Second)
		require.Len(t, snapshots, 1)
		assert.Equal(t, domain.StatusCancelled, snapshots[0].Status)
	})

	t.Run("unknown job", func(t *testing.T) {
		r, _ := newTestRedis(t)
		_, err := r.Subscribe(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("close stops forwarding", func(t *testing.T) {
		r, _ := newTestRedis(t)
		id, err := r.Create(ctx, testSubmission())
		require.NoError(t, err)

		sub, err := r.Subscribe(ctx, id)
		require.NoError(t, err)
		sub.Close()

		snapshots := collect(t, sub, time.Second)
		assert.LessOrEqual(t, len(snapshots), 1)
		require.NoError(t, r.Transition(ctx, id, domain.StatusProcessing, domain.TransitionPayload{}))
	})
}

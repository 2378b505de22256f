package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingJob(started chan<- struct{}, release <-chan struct{}) Job[int] {
	return Job[int]{
		Payload: 0,
		Fn: func(int) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}
}

func TestSubmitBlocksWhenSaturated(t *testing.T) {
	pool := NewPool[int](2)
	defer pool.Stop()

	started := make(chan struct{}, 3)
	release := make(chan struct{})

	require.NoError(t, pool.Submit(blockingJob(started, release)))
	require.NoError(t, pool.Submit(blockingJob(started, release)))
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not start")
		}
	}

	submitted := make(chan struct{})
	go func() {
		if err := pool.Submit(blockingJob(started, release)); err == nil {
			close(submitted)
		}
	}()

	select {
	case <-submitted:
		t.Fatal("third submit should block while both slots are busy")
	case <-time.After(100 * time.Millisecond):
	}

	release <- struct{}{}
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not unblock after a slot freed")
	}

	close(release)
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 3
	const jobs = 12

	pool := NewPool[int](limit)

	var running, highWater int32
	done := make(chan struct{}, jobs)
	for i := 0; i < jobs; i++ {
		err := pool.Submit(Job[int]{
			Payload: i,
			Fn: func(int) error {
				n := atomic.AddInt32(&running, 1)
				for {
					hw := atomic.LoadInt32(&highWater)
					if n <= hw || atomic.CompareAndSwapInt32(&highWater, hw, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				done <- struct{}{}
				return nil
			},
		})
		require.NoError(t, err)
	}

	for i := 0; i < jobs; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not finish")
		}
	}
	pool.Stop()

	assert.LessOrEqual(t, atomic.LoadInt32(&highWater), int32(limit))
	assert.Equal(t, int32(0), pool.ActiveWorkers())
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool[string](1)
	pool.Stop()

	err := pool.Submit(Job[string]{Payload: "late", Fn: func(string) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestSubmitHonorsContext(t *testing.T) {
	pool := NewPool[int](1)
	defer pool.Stop()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	require.NoError(t, pool.Submit(blockingJob(started, release)))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(Job[int]{Ctx: ctx, Fn: func(int) error { return nil }})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestCleanupRunsAfterJob(t *testing.T) {
	pool := NewPool[int](1)

	ran := make(chan string, 2)
	err := pool.Submit(Job[int]{
		Fn:          func(int) error { ran <- "fn"; return nil },
		CleanupFunc: func() { ran <- "cleanup" },
	})
	require.NoError(t, err)
	pool.Stop()

	assert.Equal(t, "fn", <-ran)
	assert.Equal(t, "cleanup", <-ran)
}

func TestWorkerRecoversPanic(t *testing.T) {
	pool := NewPool[int](1)

	err := pool.Submit(Job[int]{Fn: func(int) error { panic("boom") }})
	require.NoError(t, err)
	pool.Stop()

	// a second job still runs after the panic
	ok := make(chan struct{}, 1)
	pool2 := NewPool[int](1)
	require.NoError(t, pool2.Submit(Job[int]{Fn: func(int) error { close(ok); return nil }}))
	pool2.Stop()
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("pool unusable after panic")
	}
}

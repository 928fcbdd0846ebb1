package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inline(b byte) *Job {
	return NewJob(InlineInput{Data: []byte{b}})
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(0)
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(inline(byte(i))))
	}
	assert.Equal(t, 10, q.Len())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(i), job.Input.(InlineInput).Data[0])
	}
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueEnqueueNeverBlocksWhenUnbounded(t *testing.T) {
	q := NewMemoryQueue(0)
	defer q.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100000; i++ {
			_ = q.Enqueue(inline(byte(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked without any consumer")
	}
	assert.Equal(t, 100000, q.Len())
}

func TestMemoryQueueDequeueWaitsForJob(t *testing.T) {
	q := NewMemoryQueue(0)
	defer q.Close()

	got := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		if err == nil {
			got <- job
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	job := inline(7)
	require.NoError(t, q.Enqueue(job))

	select {
	case j := <-got:
		assert.Equal(t, job.ID, j.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestMemoryQueueExactlyOnceAcrossConsumers(t *testing.T) {
	const consumers = 8
	const jobs = 2000

	q := NewMemoryQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}

	ids := make([]string, 0, jobs)
	for i := 0; i < jobs; i++ {
		job := inline(byte(i))
		ids = append(ids, job.ID)
		require.NoError(t, q.Enqueue(job))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == jobs
	}, 5*time.Second, 5*time.Millisecond)

	q.Close()
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "job %s", id)
	}
}

func TestMemoryQueueCloseWakesConsumers(t *testing.T) {
	q := NewMemoryQueue(0)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := q.Dequeue(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(time.Second):
			t.Fatal("consumer not woken by Close")
		}
	}

	assert.ErrorIs(t, q.Enqueue(inline(1)), ErrQueueClosed)
	// double close is a no-op
	assert.NoError(t, q.Close())
}

func TestMemoryQueueCloseDropsPendingReplies(t *testing.T) {
	q := NewMemoryQueue(0)
	job := inline(1)
	require.NoError(t, q.Enqueue(job))

	require.NoError(t, q.Close())

	_, err := job.Reply.Wait(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueDequeueContextCancel(t *testing.T) {
	q := NewMemoryQueue(0)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the claim lock was released: the next consumer still gets work
	require.NoError(t, q.Enqueue(inline(3)))
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(3), job.Input.(InlineInput).Data[0])
}

func TestMemoryQueueMaxPending(t *testing.T) {
	q := NewMemoryQueue(2)
	defer q.Close()

	require.NoError(t, q.Enqueue(inline(1)))
	require.NoError(t, q.Enqueue(inline(2)))
	assert.ErrorIs(t, q.Enqueue(inline(3)), ErrQueueFull)

	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.NoError(t, q.Enqueue(inline(3)))
}

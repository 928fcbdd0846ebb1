package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/docflow/pkg/converter"
	"github.com/z-wentao/docflow/pkg/models"
	"github.com/z-wentao/docflow/pkg/queue"
	"github.com/z-wentao/docflow/pkg/storage"
)

func newProcessor(t *testing.T, workers int, conv converter.Converter, opts ...Option) *Processor {
	t.Helper()
	p, err := New(Config{Workers: workers}, conv, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func TestNewRejectsZeroWorkers(t *testing.T) {
	_, err := New(Config{Workers: 0}, converter.Passthrough{})
	assert.ErrorIs(t, err, ErrInvalidWorkers)

	_, err = New(Config{Workers: 1}, nil)
	assert.Error(t, err)
}

func TestSubmitInlineRoundTrip(t *testing.T) {
	p := newProcessor(t, 2, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			return reverse(data), nil
		},
	})

	out, err := p.SubmitInline(context.Background(), []byte("docx-payload"))
	require.NoError(t, err)
	assert.Equal(t, reverse([]byte("docx-payload")), out)
}

func TestSubmitFileAcknowledged(t *testing.T) {
	var gotSrc, gotOut string
	p := newProcessor(t, 1, converter.Funcs{
		File: func(_ context.Context, src, out string) error {
			gotSrc, gotOut = src, out
			return nil
		},
	})

	require.NoError(t, p.SubmitFile(context.Background(), "/in/a.docx", "/out"))
	assert.Equal(t, "/in/a.docx", gotSrc)
	assert.Equal(t, "/out", gotOut)
}

func TestEverySubmissionCompletesExactlyOnce(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			const submissions = 200

			var mu sync.Mutex
			calls := make(map[string]int)
			p := newProcessor(t, workers, converter.Funcs{
				Inline: func(_ context.Context, data []byte) ([]byte, error) {
					mu.Lock()
					calls[string(data)]++
					mu.Unlock()
					return reverse(data), nil
				},
			})

			var wg sync.WaitGroup
			errs := make(chan error, submissions)
			for i := 0; i < submissions; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					in := []byte("doc-" + strconv.Itoa(i))
					out, err := p.SubmitInline(context.Background(), in)
					if err != nil {
						errs <- err
						return
					}
					if !bytes.Equal(out, reverse(in)) {
						errs <- fmt.Errorf("submission %d got %q", i, out)
					}
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Error(err)
			}
			require.Len(t, calls, submissions)
			for k, n := range calls {
				assert.Equal(t, 1, n, "payload %s", k)
			}
			assert.Equal(t, 0, p.Active())
		})
	}
}

func TestActiveNeverExceedsWorkers(t *testing.T) {
	const workers = 3

	var inFlight, maxSeen atomic.Int32
	p := newProcessor(t, workers, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return data, nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.SubmitInline(context.Background(), []byte("x"))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxSeen.Load()), workers)
	assert.LessOrEqual(t, p.PeakActive(), workers)
	assert.Equal(t, workers, p.PeakActive())
	assert.Equal(t, 0, p.Active())
}

func TestJobsClaimedInSubmissionOrder(t *testing.T) {
	const submissions = 20

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []int

	p := newProcessor(t, 1, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			if string(data) == "gate" {
				<-gate
				return data, nil
			}
			i, err := strconv.Atoi(string(data))
			if err != nil {
				return nil, err
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return data, nil
		},
	})

	go func() { _, _ = p.SubmitInline(context.Background(), []byte("gate")) }()
	require.Eventually(t, func() bool { return p.Active() == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = p.SubmitInline(context.Background(), []byte(strconv.Itoa(i)))
		}(i)
		// wait for each enqueue so submission order is known
		require.Eventually(t, func() bool { return p.Pending() == i+1 }, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()

	require.Len(t, order, submissions)
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i])
	}
}

func TestConversionFailureIsIsolated(t *testing.T) {
	boom := errors.New("unoconvert exited with exit status 1")
	p := newProcessor(t, 4, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			time.Sleep(2 * time.Millisecond)
			if string(data) == "bad" {
				return nil, boom
			}
			return data, nil
		},
	})

	var wg sync.WaitGroup
	var failed error
	okCount := atomic.Int32{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte("good")
			if i == 5 {
				payload = []byte("bad")
			}
			out, err := p.SubmitInline(context.Background(), payload)
			if i == 5 {
				failed = err
				return
			}
			if err == nil && string(out) == "good" {
				okCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(9), okCount.Load())
	require.Error(t, failed)
	assert.ErrorIs(t, failed, ErrConversionFailed)
	assert.ErrorIs(t, failed, boom)

	var convErr *ConversionError
	require.ErrorAs(t, failed, &convErr)
	assert.Equal(t, boom, convErr.Err)
	assert.Contains(t, failed.Error(), "exit status 1")
}

func TestAbandonedSubmissionStillProcessed(t *testing.T) {
	release := make(chan struct{})
	var processed atomic.Int32
	p := newProcessor(t, 1, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			<-release
			processed.Add(1)
			return data, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.SubmitInline(ctx, []byte("abandoned"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return processed.Load() == 1 }, time.Second, time.Millisecond)

	out, err := p.SubmitInline(context.Background(), []byte("next"))
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), out)
	assert.Equal(t, 1, p.Alive())
	assert.Equal(t, 0, p.Active())
}

func TestWorkerCountBoundsWallTime(t *testing.T) {
	p := newProcessor(t, 2, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			time.Sleep(50 * time.Millisecond)
			return data, nil
		},
	})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.SubmitInline(context.Background(), []byte("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// two batches of two: not parallel (~50ms), not serial (~200ms)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 190*time.Millisecond)
}

func TestShutdownDisconnectsQueuedJobs(t *testing.T) {
	release := make(chan struct{})
	p, err := New(Config{Workers: 1}, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			<-release
			return data, nil
		},
	})
	require.NoError(t, err)

	inflight := make(chan error, 1)
	go func() {
		_, err := p.SubmitInline(context.Background(), []byte("running"))
		inflight <- err
	}()
	require.Eventually(t, func() bool { return p.Active() == 1 }, time.Second, time.Millisecond)

	queued := make(chan error, 1)
	go func() {
		_, err := p.SubmitInline(context.Background(), []byte("queued"))
		queued <- err
	}()
	require.Eventually(t, func() bool { return p.Pending() == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()

	assert.ErrorIs(t, <-queued, ErrDisconnected)

	close(release)
	assert.NoError(t, <-inflight)
	assert.NoError(t, <-done)

	_, err = p.SubmitInline(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, p.Alive())
}

func TestShutdownTimeout(t *testing.T) {
	p, err := New(Config{Workers: 1}, converter.Funcs{
		Inline: func(ctx context.Context, data []byte) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)

	go func() { _, _ = p.SubmitInline(context.Background(), []byte("slow")) }()
	require.Eventually(t, func() bool { return p.Active() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), ErrShutdownTimeout)

	// cancelling the workers' context unblocks the converter
	require.Eventually(t, func() bool { return p.Alive() == 0 }, time.Second, time.Millisecond)
}

func TestMaxPendingRejects(t *testing.T) {
	release := make(chan struct{})
	p, err := New(Config{Workers: 1, MaxPending: 1}, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			<-release
			return data, nil
		},
	})
	require.NoError(t, err)
	defer func() {
		close(release)
		_ = p.Shutdown(context.Background())
	}()

	go func() { _, _ = p.SubmitInline(context.Background(), []byte("a")) }()
	require.Eventually(t, func() bool { return p.Active() == 1 }, time.Second, time.Millisecond)
	go func() { _, _ = p.SubmitInline(context.Background(), []byte("b")) }()
	require.Eventually(t, func() bool { return p.Pending() == 1 }, time.Second, time.Millisecond)

	_, err = p.SubmitInline(context.Background(), []byte("c"))
	assert.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestLedgerRecordsOutcome(t *testing.T) {
	store := storage.NewJobStore(0)
	p := newProcessor(t, 2, converter.Funcs{
		Inline: func(_ context.Context, data []byte) ([]byte, error) {
			if string(data) == "bad" {
				return nil, errors.New("broken document")
			}
			return []byte("pdf"), nil
		},
	}, WithStore(store))

	_, err := p.SubmitInline(context.Background(), []byte("good"))
	require.NoError(t, err)
	_, err = p.SubmitInline(context.Background(), []byte("bad"))
	require.Error(t, err)

	require.Eventually(t, func() bool {
		jobs, _ := store.List(context.Background())
		if len(jobs) != 2 {
			return false
		}
		for _, j := range jobs {
			if !j.Status.Terminal() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	jobs, err := store.List(context.Background())
	require.NoError(t, err)
	byStatus := map[models.JobStatus]*models.ConversionJob{}
	for _, j := range jobs {
		byStatus[j.Status] = j
	}
	require.Contains(t, byStatus, models.StatusCompleted)
	require.Contains(t, byStatus, models.StatusFailed)
	assert.Equal(t, int64(4), byStatus[models.StatusCompleted].InputSize)
	assert.Equal(t, int64(3), byStatus[models.StatusCompleted].OutputSize)
	assert.Equal(t, "broken document", byStatus[models.StatusFailed].Error)
}

package swarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestRunAllUnits(t *testing.T) {
	r := NewRunner(3)
	var count int64

	units := make([]Unit, 10)
	for i := range units {
		units[i] = Unit{
			ID: fmt.Sprintf("u%d", i),
			Run: func(ctx context.Context) error {
				atomic.AddInt64(&count, 1)
				return nil
			},
		}
	}

	results := r.Run(context.Background(), units)
	require.Len(t, results, 10)
	assert.EqualValues(t, 10, count)
	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("u%d", i), res.ID)
		assert.NoError(t, res.Err)
		assert.False(t, res.Skipped)
	}
}

func TestBatchWidthIsRespected(t *testing.T) {
	r := NewRunner(4)
	var current, peak int64
	var mu sync.Mutex

	units := make([]Unit, 12)
	for i := range units {
		units[i] = Unit{
			ID: fmt.Sprintf("u%d", i),
			Run: func(ctx context.Context) error {
				n := atomic.AddInt64(&current, 1)
				mu.Lock()
				if n > peak {
					peak = n
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			},
		}
	}

	r.Run(context.Background(), units)
	assert.LessOrEqual(t, peak, int64(4))
}

func TestUnitFailureDoesNotAbortSiblings(t *testing.T) {
	r := NewRunner(5)
	boom := errors.New("boom")

	units := []Unit{
		{ID: "ok-1", Run: func(ctx context.Context) error { return nil }},
		{ID: "bad", Run: func(ctx context.Context) error { return boom }},
		{ID: "panics", Run: func(ctx context.Context) error { panic("kaboom") }},
		{ID: "ok-2", Run: func(ctx context.Context) error { return nil }},
	}

	results := r.Run(context.Background(), units)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.ErrorContains(t, results[2].Err, "panic")
	assert.NoError(t, results[3].Err)
}

func TestCancellationAtBatchBoundary(t *testing.T) {
	r := NewRunner(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var executed int64
	units := make([]Unit, 6)
	for i := range units {
		units[i] = Unit{
			ID: fmt.Sprintf("u%d", i),
			Run: func(ctx context.Context) error {
				atomic.AddInt64(&executed, 1)
				cancel() // 第一批执行中取消
				return nil
			},
		}
	}

	results := r.Run(ctx, units)

	// 第一批（2 个）跑完，后 4 个在边界被跳过
	assert.EqualValues(t, 2, executed)
	for i := 0; i < 2; i++ {
		assert.False(t, results[i].Skipped)
	}
	for i := 2; i < 6; i++ {
		assert.True(t, results[i].Skipped, i)
		assert.ErrorIs(t, results[i].Err, context.Canceled)
	}
}

func TestDefaultWidth(t *testing.T) {
	assert.Equal(t, 10, NewRunner(0).Width())
	assert.Equal(t, 10, NewRunner(-1).Width())
}

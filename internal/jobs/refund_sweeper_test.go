package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civicdrive/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetrier struct {
	mu          sync.Mutex
	calls       int
	limit       int
	maxAttempts int
	applied     int
	err         error
	block       chan struct{}
}

func (f *fakeRetrier) RetryPendingRefunds(ctx context.Context, limit, maxAttempts int) (int, error) {
	f.mu.Lock()
	f.calls++
	f.limit, f.maxAttempts = limit, maxAttempts
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.applied, f.err
}

func TestRefundSweeper_Sweep(t *testing.T) {
	cfg := config.RefundConfig{SweepSchedule: "@every 1m", BatchSize: 25, MaxAttempts: 4}

	t.Run("passes batch settings", func(t *testing.T) {
		r := &fakeRetrier{applied: 3}
		s := NewRefundSweeper(r, cfg)

		assert.Equal(t, 3, s.Sweep(context.Background()))
		assert.Equal(t, 25, r.limit)
		assert.Equal(t, 4, r.maxAttempts)
	})

	t.Run("reports partial progress on error", func(t *testing.T) {
		r := &fakeRetrier{applied: 1, err: errors.New("connection reset")}
		s := NewRefundSweeper(r, cfg)

		assert.Equal(t, 1, s.Sweep(context.Background()))
	})

	t.Run("overlapping sweep is skipped", func(t *testing.T) {
		r := &fakeRetrier{applied: 2, block: make(chan struct{})}
		s := NewRefundSweeper(r, cfg)

		done := make(chan int)
		go func() { done <- s.Sweep(context.Background()) }()
		require.Eventually(t, func() bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.calls == 1
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, 0, s.Sweep(context.Background()))
		close(r.block)
		assert.Equal(t, 2, <-done)
		assert.Equal(t, 1, r.calls)
	})
}

func TestRefundSweeper_Start(t *testing.T) {
	t.Run("invalid schedule", func(t *testing.T) {
		s := NewRefundSweeper(&fakeRetrier{}, config.RefundConfig{SweepSchedule: "every so often"})
		assert.Error(t, s.Start())
	})

	t.Run("start and stop", func(t *testing.T) {
		s := NewRefundSweeper(&fakeRetrier{}, config.RefundConfig{SweepSchedule: "@every 1h"})
		require.NoError(t, s.Start())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
}

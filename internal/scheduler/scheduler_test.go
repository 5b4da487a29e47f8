package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s := NewIntervalScheduler(ctx, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Start(func() {
			if runs.Add(1) >= 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestSchedulerRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	s := NewIntervalScheduler(ctx, time.Hour)
	s.RunImmediately = true

	done := make(chan struct{})
	go func() {
		s.Start(func() {
			runs.Add(1)
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestSchedulerRejectsBadInputs(t *testing.T) {
	// Both return immediately instead of spinning.
	NewIntervalScheduler(context.Background(), 0).Start(func() {})
	NewIntervalScheduler(context.Background(), time.Second).Start(nil)
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddValidation(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.Add(Task{Name: "x", Interval: time.Second}))
	assert.Error(t, s.Add(Task{Interval: time.Second, Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Task{Name: "x", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Task{Name: "x", Interval: time.Second, Run: func(context.Context) error { return nil }}))
	assert.Equal(t, time.Second, s.tasks[0].Timeout)
}

func TestScheduler_RunsImmediately(t *testing.T) {
	s := New(nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Task{Name: "cycle", Interval: time.Hour, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run on start")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestScheduler_SingleFlight(t *testing.T) {
	s := New(nil)
	var starts, concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})

	require.NoError(t, s.Add(Task{Name: "monitor", Interval: 5 * time.Millisecond, Timeout: time.Minute, Run: func(ctx context.Context) error {
		starts.Add(1)
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	// many ticks pass while the first run is blocked
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), starts.Load())

	close(release)
	require.Eventually(t, func() bool { return starts.Load() > 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestScheduler_TimeoutBoundsRun(t *testing.T) {
	s := New(nil)
	got := make(chan error, 1)
	require.NoError(t, s.Add(Task{Name: "slow", Interval: time.Hour, Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case got <- ctx.Err():
		default:
		}
		return ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case err := <-got:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("run was not cancelled by its timeout")
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	err := runSafely(context.Background(), func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestScheduler_WaitsForBarrier(t *testing.T) {
	b := NewBarrier("storage", "risk")
	s := New(nil, WithBarrier(b))
	var runs atomic.Int32
	require.NoError(t, s.Add(Task{Name: "cycle", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runs.Load())

	b.Ready("storage")
	b.Ready("risk")
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestScheduler_BarrierCancelled(t *testing.T) {
	s := New(nil, WithBarrier(NewBarrier("never")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Run(ctx))
}

func TestBarrier(t *testing.T) {
	b := NewBarrier("b", "a")
	assert.False(t, b.IsReady())
	assert.Equal(t, []string{"a", "b"}, b.Pending())

	b.Ready("a")
	b.Ready("a")
	b.Ready("unknown")
	assert.Equal(t, []string{"b"}, b.Pending())

	b.Ready("b")
	assert.True(t, b.IsReady())
	assert.NoError(t, b.Wait(context.Background()))

	assert.True(t, NewBarrier().IsReady())
}

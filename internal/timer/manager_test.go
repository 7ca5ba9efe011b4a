package timer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kellandavies/riskd/internal/timer"
	"github.com/stretchr/testify/require"
)

func TestStartFiresAfterDuration(t *testing.T) {
	m := timer.New(nil)
	m.SetTick(10 * time.Millisecond)

	var fired atomic.Bool
	m.Start("t1", 5*time.Millisecond, func() { fired.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()
	<-done

	require.True(t, fired.Load())
}

func TestCancelPreventsFiring(t *testing.T) {
	m := timer.New(nil)
	m.SetTick(10 * time.Millisecond)

	var fired atomic.Bool
	m.Start("t1", 5*time.Millisecond, func() { fired.Store(true) })
	m.Cancel("t1")

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()
	<-done

	require.False(t, fired.Load())
}

func TestStartingSameNameReplaces(t *testing.T) {
	m := timer.New(nil)
	var count atomic.Int32
	m.Start("t1", time.Hour, func() { count.Add(1) })
	m.Start("t1", 0, func() { count.Add(10) })
	require.True(t, m.Has("t1"))
	require.Equal(t, int64(0), m.Remaining("t1"))
}

func TestRemainingZeroForUnknown(t *testing.T) {
	m := timer.New(nil)
	require.Equal(t, int64(0), m.Remaining("nope"))
}

func TestNegativeDurationPanics(t *testing.T) {
	m := timer.New(nil)
	require.Panics(t, func() {
		m.Start("bad", -time.Second, func() {})
	})
}

func TestPanickingCallbackDoesNotStopOtherTimers(t *testing.T) {
	m := timer.New(nil)
	m.SetTick(5 * time.Millisecond)

	var secondFired atomic.Bool
	m.Start("boom", time.Millisecond, func() { panic("kaboom") })
	m.Start("ok", time.Millisecond, func() { secondFired.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()
	<-done

	require.True(t, secondFired.Load())
}

package checkout_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/checkout"
)

func TestPollerFiresOnce(t *testing.T) {
	p := checkout.NewPoller(5 * time.Millisecond)
	var fired atomic.Int32
	p.Schedule(func() { fired.Add(1) })

	waitFor(t, func() bool { return fired.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

func TestScheduleReplacesPendingTick(t *testing.T) {
	p := checkout.NewPoller(10 * time.Millisecond)
	var first, second atomic.Int32
	p.Schedule(func() { first.Add(1) })
	p.Schedule(func() { second.Add(1) })

	waitFor(t, func() bool { return second.Load() == 1 })
	require.Equal(t, int32(0), first.Load())
}

func TestStopCancelsPendingTick(t *testing.T) {
	p := checkout.NewPoller(5 * time.Millisecond)
	var fired atomic.Int32
	p.Schedule(func() { fired.Add(1) })
	p.Stop()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdvanceIncrementsFromZero(t *testing.T) {
	s := New(ModeManual, 0, nil)
	require.Equal(t, int64(0), s.CurrentTick())
	require.Equal(t, int64(1), s.Advance())
	require.Equal(t, int64(2), s.Advance())
	require.Equal(t, int64(2), s.CurrentTick())
}

func TestSubscribeToReceivesTicksInOrder(t *testing.T) {
	s := New(ModeManual, 0, nil)
	var seen []int64
	s.SubscribeTo(func(tick int64) { seen = append(seen, tick) })

	s.Advance()
	s.Advance()
	s.Advance()

	require.Equal(t, []int64{1, 2, 3}, seen)
}

func TestHandlerPanicIsSwallowed(t *testing.T) {
	s := New(ModeManual, 0, nil)
	s.SubscribeTo(func(tick int64) { panic("boom") })

	reached := false
	s.SubscribeTo(func(tick int64) { reached = true })

	require.NotPanics(t, func() { s.Advance() })
	require.True(t, reached)
}

func TestWallClockStartAdvancesOnInterval(t *testing.T) {
	s := New(ModeWallClock, 5*time.Millisecond, nil)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.CurrentTick() >= 2
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestStartIsNoOpInManualMode(t *testing.T) {
	s := New(ModeManual, time.Millisecond, nil)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), s.CurrentTick())
}
